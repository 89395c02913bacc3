package tui

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// StateUpdate is one decoded payload from the gateway's state stream or the
// /session/state endpoint.
type StateUpdate struct {
	State         string
	Reason        string
	RetryIn       time.Duration
	IdentityID    string
	IdentityEmail string
	LoginURL      string
}

// Client talks to a locally running gateway instance.
type Client struct {
	port       int
	httpClient *http.Client
}

// NewClient creates a client for the gateway listening on the given port.
func NewClient(port int) *Client {
	return &Client{
		port:       port,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// DialStateStream connects to the gateway's websocket state stream.
func (c *Client) DialStateStream() (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/session/state/ws", c.port)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to state stream: %w", err)
	}
	return conn, nil
}

// FetchState reads the current session state once over HTTP.
func (c *Client) FetchState() (StateUpdate, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d/session/state", c.port))
	if err != nil {
		return StateUpdate{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if errRead != nil {
		return StateUpdate{}, errRead
	}
	if resp.StatusCode != http.StatusOK {
		return StateUpdate{}, fmt.Errorf("unexpected status %d from state endpoint", resp.StatusCode)
	}
	return decodeStateUpdate(body), nil
}

// Refresh asks the gateway to re-probe the session immediately.
func (c *Client) Refresh() error {
	resp, err := c.httpClient.Post(fmt.Sprintf("http://127.0.0.1:%d/session/refresh", c.port), "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from refresh endpoint", resp.StatusCode)
	}
	return nil
}

func decodeStateUpdate(payload []byte) StateUpdate {
	root := gjson.ParseBytes(payload)
	return StateUpdate{
		State:         root.Get("state").String(),
		Reason:        root.Get("reason").String(),
		RetryIn:       time.Duration(root.Get("retry_in_ms").Int()) * time.Millisecond,
		IdentityID:    root.Get("identity.id").String(),
		IdentityEmail: root.Get("identity.email").String(),
		LoginURL:      root.Get("login_url").String(),
	}
}
