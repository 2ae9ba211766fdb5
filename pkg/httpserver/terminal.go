package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/ssh"
	"github.com/laoqin2024/LT-panle/pkg/terminal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The panel frontend is served from a different origin than this daemon.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket to the terminal client interface. The write
// lock is required: the session writes output and notices concurrently.
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadFrame() (*terminal.Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := terminal.ParseFrame(data)
		if err != nil {
			logrus.Warnf("terminal: dropping malformed client frame: %v", err)
			continue
		}
		return f, nil
	}
}

func (c *wsConn) WriteFrame(f *terminal.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
	return nil
}

// handleTerminal upgrades to a websocket and runs a terminal session over
// the pooled connection for the requested host/credential pair. Failures
// after the upgrade are delivered as error frames, not HTTP statuses.
func (s *APIServer) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, nil)
		return
	}

	q := r.URL.Query()
	hostID, err := strconv.ParseInt(q.Get("host_id"), 10, 64)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid host_id"})
		return
	}
	credID, err := strconv.ParseInt(q.Get("credential_id"), 10, 64)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid credential_id"})
		return
	}
	rows, _ := strconv.Atoi(q.Get("rows"))
	cols, _ := strconv.Atoi(q.Get("cols"))

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("terminal: websocket upgrade failed: %v", err)
		return
	}

	var conn *ssh.Connection
	bridge := &terminal.Bridge{
		Connect: func(ctx context.Context) error {
			c, err := s.acquire(ctx, hostID, credID)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		StartShell: func(rows, cols int) (terminal.Shell, error) {
			return terminal.StartShell(conn, rows, cols)
		},
	}

	sess := terminal.NewSession(&wsConn{ws: ws}, bridge,
		terminal.WithIdleTimeout(s.cfg.IdleTimeout()),
		terminal.WithInitialSize(rows, cols))

	logrus.Infof("terminal %s: starting for host %d credential %d", sess.ID, hostID, credID)
	if err := sess.Run(r.Context()); err != nil {
		logrus.Warnf("terminal %s: %v", sess.ID, err)
	}
}
