package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/terminal"
)

var attachTerminal = cli.Command{
	Name:        "attach",
	Usage:       "attach the local terminal to a managed host",
	UsageText:   "attach --host-id ID --credential-id ID [OPTIONS]",
	Description: "open an interactive terminal on a managed host through a running daemon",
	Action:      attach,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagServer,
			Usage: "daemon base URL",
			Value: "http://" + define.DefaultListenAddr,
		},
		&cli.Int64Flag{
			Name:  define.FlagHostID,
			Usage: "target host id",
		},
		&cli.Int64Flag{
			Name:  define.FlagCredentialID,
			Usage: "credential id to authenticate with",
		},
		&cli.StringFlag{
			Name:  define.FlagToken,
			Usage: "api token",
		},
	},
}

func attach(ctx context.Context, command *cli.Command) error {
	hostID := command.Int64(define.FlagHostID)
	credID := command.Int64(define.FlagCredentialID)
	if hostID == 0 || credID == 0 {
		return errors.New("host-id and credential-id are required")
	}

	stdin := int(os.Stdin.Fd())
	rows, cols := define.DefaultTermRows, define.DefaultTermCols
	isTTY := term.IsTerminal(stdin)
	if isTTY {
		if w, h, err := term.GetSize(stdin); err == nil {
			cols, rows = w, h
		}
	}

	wsURL, err := terminalURL(command.String(define.FlagServer), hostID, credID,
		command.String(define.FlagToken), rows, cols)
	if err != nil {
		return err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	if isTTY {
		oldState, err := term.MakeRaw(stdin)
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer func() {
			if err := term.Restore(stdin, oldState); err != nil {
				logrus.Warnf("restore terminal state: %v", err)
			}
		}()
	}

	a := &attachClient{ws: ws}
	done := make(chan struct{})
	defer close(done)

	go a.pumpStdin(done)
	if isTTY {
		go a.watchResize(ctx, stdin, done)
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = a.writeFrame(&terminal.Frame{Type: terminal.FrameClose})
			ws.Close()
		case <-done:
		}
	}()

	return a.pumpOutput()
}

// terminalURL turns the daemon base URL into the websocket terminal endpoint.
func terminalURL(base string, hostID, credID int64, token string, rows, cols int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parse server url %q", base)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = "/servers/terminal"

	q := u.Query()
	q.Set("host_id", strconv.FormatInt(hostID, 10))
	q.Set("credential_id", strconv.FormatInt(credID, 10))
	q.Set("rows", strconv.Itoa(rows))
	q.Set("cols", strconv.Itoa(cols))
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// attachClient wires the local terminal to the daemon's websocket protocol.
// writeMu serializes frames from the stdin pump and the resize watcher.
type attachClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (a *attachClient) writeFrame(f *terminal.Frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.ws.WriteJSON(f)
}

// pumpOutput renders server frames until the socket closes.
func (a *attachClient) pumpOutput() error {
	for {
		var f terminal.Frame
		if err := a.ws.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case terminal.FrameOutput:
			os.Stdout.WriteString(f.Data)
		case terminal.FrameConnected:
			logrus.Debugf("attach: %s", f.Message)
		case terminal.FrameError:
			fmt.Fprintf(os.Stderr, "\r\n%s\r\n", f.Message)
		default:
			logrus.Debugf("attach: ignoring frame type %q", f.Type)
		}
	}
}

func (a *attachClient) pumpStdin(done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if err := a.writeFrame(&terminal.Frame{Type: terminal.FrameInput, Data: string(buf[:n])}); err != nil {
				return
			}
		}
		if err != nil {
			_ = a.writeFrame(&terminal.Frame{Type: terminal.FrameClose})
			return
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func (a *attachClient) watchResize(ctx context.Context, fd int, done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-sigCh:
			if w, h, err := term.GetSize(fd); err == nil {
				_ = a.writeFrame(&terminal.Frame{Type: terminal.FrameResize, Rows: h, Cols: w})
			}
		}
	}
}
