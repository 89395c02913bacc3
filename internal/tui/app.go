package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const reconnectDelay = 2 * time.Second

// App is the bubbletea model for the gateway status view. It mirrors the
// gateway's session state over the websocket stream and offers manual
// refresh, login-page opening, and login-URL copying.
type App struct {
	client *Client
	conn   *websocket.Conn

	spinner  spinner.Model
	update   StateUpdate
	loginURL string
	notice   string
	ready    bool

	width int
}

type connectedMsg struct{ conn *websocket.Conn }
type streamMsg StateUpdate
type streamErrMsg struct{ err error }
type reconnectTickMsg struct{}
type refreshedMsg struct{ err error }

// NewApp creates the status view model for a gateway on the given port.
func NewApp(port int) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = checkingStyle

	return App{
		client:  NewClient(port),
		spinner: sp,
		update:  StateUpdate{State: "checking"},
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.connect())
}

func (a App) connect() tea.Cmd {
	return func() tea.Msg {
		conn, err := a.client.DialStateStream()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func readStream(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return streamMsg(decodeStateUpdate(payload))
	}
}

func reconnectAfter() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return reconnectTickMsg{}
	})
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case connectedMsg:
		a.conn = msg.conn
		a.ready = true
		a.notice = ""
		return a, readStream(a.conn)

	case streamMsg:
		a.update = StateUpdate(msg)
		if a.update.LoginURL != "" {
			a.loginURL = a.update.LoginURL
		}
		return a, readStream(a.conn)

	case streamErrMsg:
		if a.conn != nil {
			_ = a.conn.Close()
			a.conn = nil
		}
		a.ready = false
		a.notice = "state stream disconnected, reconnecting..."
		return a, reconnectAfter()

	case reconnectTickMsg:
		return a, a.connect()

	case refreshedMsg:
		if msg.err != nil {
			a.notice = fmt.Sprintf("refresh failed: %v", msg.err)
		} else {
			a.notice = "refresh requested"
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if a.conn != nil {
				_ = a.conn.Close()
			}
			return a, tea.Quit
		case "r":
			client := a.client
			return a, func() tea.Msg {
				return refreshedMsg{err: client.Refresh()}
			}
		case "l":
			if a.loginURL == "" {
				a.notice = "no login URL available yet"
				return a, nil
			}
			if err := openBrowser(a.loginURL); err != nil {
				a.notice = fmt.Sprintf("failed to open browser: %v", err)
			} else {
				a.notice = "opened login page in browser"
			}
			return a, nil
		case "c":
			if a.loginURL == "" {
				a.notice = "no login URL available yet"
				return a, nil
			}
			if err := clipboard.WriteAll(a.loginURL); err != nil {
				a.notice = fmt.Sprintf("failed to copy: %v", err)
			} else {
				a.notice = "login URL copied to clipboard"
			}
			return a, nil
		}
	}

	return a, nil
}

func (a App) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Session Gateway"))
	sb.WriteString("\n")
	sb.WriteString(sectionStyle.Render(a.renderState()))
	sb.WriteString("\n")

	if a.notice != "" {
		sb.WriteString(noticeStyle.Render(a.notice))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render("r refresh • l open login page • c copy login URL • q quit"))
	sb.WriteString("\n")

	return sb.String()
}

func (a App) renderState() string {
	var rows []string

	state := a.update.State
	stateLine := stateStyle(state).Render(state)
	if state == "checking" || state == "" {
		stateLine = a.spinner.View() + " " + checkingStyle.Render("checking session...")
	}
	rows = append(rows, labelStyle.Render("State")+stateLine)

	switch state {
	case "authenticated":
		if a.update.IdentityEmail != "" {
			rows = append(rows, labelStyle.Render("Signed in")+valueStyle.Render(a.update.IdentityEmail))
		} else if a.update.IdentityID != "" {
			rows = append(rows, labelStyle.Render("Signed in")+valueStyle.Render(a.update.IdentityID))
		}
	case "unauthenticated":
		if a.loginURL != "" {
			rows = append(rows, labelStyle.Render("Login")+valueStyle.Render(a.loginURL))
		}
	case "degraded":
		if a.update.Reason != "" {
			rows = append(rows, labelStyle.Render("Reason")+valueStyle.Render(a.update.Reason))
		}
		if a.update.RetryIn > 0 {
			rows = append(rows, labelStyle.Render("Retry in")+valueStyle.Render(a.update.RetryIn.String()))
		}
	}

	if !a.ready {
		rows = append(rows, labelStyle.Render("Stream")+helpStyle.Render("offline"))
	}

	return strings.Join(rows, "\n")
}

// Run starts the status TUI. output specifies where bubbletea renders; if
// nil, it defaults to os.Stdout.
func Run(port int, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	p := tea.NewProgram(NewApp(port), tea.WithAltScreen(), tea.WithOutput(output))
	_, err := p.Run()
	return err
}
