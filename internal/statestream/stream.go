// Package statestream exposes a websocket endpoint that pushes session
// guard state transitions to connected clients: the current snapshot on
// connect, then one message per transition. Slow or dead clients are
// dropped rather than ever blocking the guard.
package statestream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leok974/ApplyLens-sub016/internal/session"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	readTimeout          = 60 * time.Second
	writeTimeout         = 10 * time.Second
	heartbeatInterval    = 30 * time.Second
	maxInboundMessageLen = 512
	sendQueueDepth       = 8
)

// Options configures a Hub instance.
type Options struct {
	// Snapshot supplies the current guard condition for newly connected
	// clients. Required.
	Snapshot func() session.Snapshot
	// LoginURL supplies the login entry point included in unauthenticated
	// payloads. Required.
	LoginURL func() string
}

// Hub fans guard state transitions out to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	snapshot func() session.Snapshot
	loginURL func() string

	mu      sync.RWMutex
	clients map[string]*client
	stopped bool
}

// NewHub builds a hub with the supplied options.
func NewHub(opts Options) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		snapshot: opts.Snapshot,
		loginURL: opts.LoginURL,
		clients:  make(map[string]*client),
	}
}

// Handler exposes an http.Handler that upgrades connections to websocket
// sessions subscribed to guard state transitions.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleWebsocket)
}

// Broadcast pushes one state transition to every connected client.
func (h *Hub) Broadcast(snap session.Snapshot) {
	payload := h.payload(snap)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		cl.enqueue(payload)
	}
}

// Stop disconnects all clients. The hub accepts no new connections after.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[string]*client)
	h.stopped = true
	h.mu.Unlock()

	for _, cl := range clients {
		cl.close()
	}
}

func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("statestream: websocket upgrade failed")
		return
	}

	cl := newClient(conn)
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	log.Debugf("statestream: client %s connected", cl.id)

	cl.enqueue(h.payload(h.snapshot()))

	go cl.writeLoop()
	go func() {
		cl.readLoop()
		h.drop(cl)
	}()
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	h.mu.Unlock()
	cl.close()
	log.Debugf("statestream: client %s disconnected", cl.id)
}

// payload renders a snapshot as a stream message.
func (h *Hub) payload(snap session.Snapshot) []byte {
	msg, _ := sjson.Set(`{"type":"state"}`, "state", snap.State.String())
	if snap.Reason != "" {
		msg, _ = sjson.Set(msg, "reason", snap.Reason)
	}
	if snap.RetryIn > 0 {
		msg, _ = sjson.Set(msg, "retry_in_ms", snap.RetryIn.Milliseconds())
	}
	if snap.Identity != nil {
		msg, _ = sjson.Set(msg, "identity.id", snap.Identity.ID)
		msg, _ = sjson.Set(msg, "identity.email", snap.Identity.Email)
	}
	if snap.State == session.StateUnauthenticated {
		msg, _ = sjson.Set(msg, "login_url", h.loginURL())
	}
	return []byte(msg)
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	cl := &client{
		id:     uuid.NewString()[:8],
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(maxInboundMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return cl
}

// enqueue hands a payload to the writer without ever blocking the caller.
// A client whose queue is full is disconnected.
func (cl *client) enqueue(payload []byte) {
	select {
	case cl.send <- payload:
	case <-cl.closed:
	default:
		log.Debugf("statestream: client %s is too slow, dropping", cl.id)
		cl.close()
	}
}

func (cl *client) writeLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.closed:
			return
		case payload := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				cl.close()
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				cl.close()
				return
			}
		}
	}
}

// readLoop consumes inbound frames so control messages are processed and a
// closed peer is noticed. Clients have nothing meaningful to say.
func (cl *client) readLoop() {
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *client) close() {
	cl.closeOnce.Do(func() {
		close(cl.closed)
		_ = cl.conn.Close()
	})
}
