package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/laoqin2024/LT-panle/pkg/define"
)

// State is the session lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateShellStarting
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateShellStarting:
		return "shell-starting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// internal loop outcomes, never surfaced to callers
var (
	errSessionEnded  = errors.New("remote shell ended")
	errIdleTimeout   = errors.New("idle timeout")
	errClientClosed  = errors.New("client requested close")
	errClientDropped = errors.New("client connection dropped")
)

// Bridge supplies the remote side of a session. Connect acquires the shared
// transport; StartShell opens the shell channel over it.
type Bridge struct {
	Connect    func(ctx context.Context) error
	StartShell func(rows, cols int) (Shell, error)
}

// Session pumps frames between one client and one remote shell.
type Session struct {
	ID     string
	client ClientConn
	bridge *Bridge

	rows, cols  int
	idleTimeout time.Duration

	state        atomic.Int32
	lastActivity atomic.Int64
	noticeOnce   sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithIdleTimeout overrides the inactivity window.
func WithIdleTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.idleTimeout = d }
}

// WithInitialSize sets the PTY geometry requested at shell start.
func WithInitialSize(rows, cols int) SessionOption {
	return func(s *Session) { s.rows, s.cols = rows, cols }
}

func NewSession(client ClientConn, bridge *Bridge, opts ...SessionOption) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		client:      client,
		bridge:      bridge,
		rows:        define.DefaultTermRows,
		cols:        define.DefaultTermCols,
		idleTimeout: define.DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	logrus.Debugf("terminal %s: state %s", s.ID, st)
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastActivity.Load())
}

// notice delivers at most one terminal error frame to the client. Later
// failure paths fold into whichever notice fired first.
func (s *Session) notice(message string) {
	s.noticeOnce.Do(func() {
		if err := s.client.WriteFrame(errorFrame(message)); err != nil {
			logrus.Debugf("terminal %s: failed to deliver notice: %v", s.ID, err)
		}
	})
}

// Run drives the session to completion: acquire the transport, start the
// shell, then pump frames both ways until the shell ends, the client leaves,
// or the idle window elapses. The client connection is closed on return; the
// shared transport is left alone.
func (s *Session) Run(ctx context.Context) error {
	defer s.client.Close()

	s.touch()
	s.setState(StateConnecting)
	if err := s.bridge.Connect(ctx); err != nil {
		s.fail(err)
		return err
	}

	s.setState(StateShellStarting)
	shell, err := s.bridge.StartShell(s.rows, s.cols)
	if err != nil {
		s.fail(err)
		return err
	}
	defer shell.Close()

	s.setState(StateActive)
	if err := s.client.WriteFrame(connectedFrame("connection established")); err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("deliver connected frame: %w", err)
	}
	s.touch()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpOutput(ctx, shell) })
	g.Go(func() error { return s.pumpInput(ctx, shell) })

	err = g.Wait()
	s.setState(StateClosed)
	logrus.Infof("terminal %s: session ended (%v)", s.ID, err)

	switch {
	case errors.Is(err, errSessionEnded),
		errors.Is(err, errIdleTimeout),
		errors.Is(err, errClientClosed),
		errors.Is(err, errClientDropped):
		return nil
	default:
		return err
	}
}

func (s *Session) fail(err error) {
	s.setState(StateFailed)
	s.notice(err.Error())
	logrus.Warnf("terminal %s: failed before becoming active: %v", s.ID, err)
}

// pumpOutput forwards shell output to the client and enforces the idle
// window. The raw read runs in its own goroutine so the loop stays
// responsive to cancellation and the idle ticker.
func (s *Session) pumpOutput(ctx context.Context, shell Shell) error {
	out := make(chan []byte, 32)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			buf := make([]byte, define.ShellReadChunk)
			n, err := shell.Read(buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(define.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk := <-out:
			s.touch()
			if err := s.client.WriteFrame(outputFrame(chunk)); err != nil {
				return fmt.Errorf("%w: %v", errClientDropped, err)
			}

		case err := <-readErr:
			s.drainOutput(out)
			logrus.Debugf("terminal %s: shell read ended: %v", s.ID, err)
			s.notice("session ended")
			return errSessionEnded

		case <-ticker.C:
			if s.idleFor() >= s.idleTimeout {
				s.notice(fmt.Sprintf("session closed after %s of inactivity", s.idleTimeout))
				s.setState(StateClosing)
				return errIdleTimeout
			}
		}
	}
}

// drainOutput flushes buffered chunks so output produced just before the
// shell ended still reaches the client ahead of the final notice.
func (s *Session) drainOutput(out <-chan []byte) {
	for {
		select {
		case chunk := <-out:
			if err := s.client.WriteFrame(outputFrame(chunk)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// pumpInput forwards client frames to the shell. Input refreshes the
// activity clock; resize deliberately does not, so a client keeping a
// window open without typing still times out.
func (s *Session) pumpInput(ctx context.Context, shell Shell) error {
	frames := make(chan *Frame)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			f, err := s.client.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("%w: %v", errClientDropped, err)

		case f := <-frames:
			switch f.Type {
			case FrameInput:
				s.touch()
				if _, err := shell.Write([]byte(f.Data)); err != nil {
					s.notice("session ended")
					return errSessionEnded
				}

			case FrameResize:
				if err := shell.Resize(f.Rows, f.Cols); err != nil {
					logrus.Warnf("terminal %s: resize to %dx%d failed: %v", s.ID, f.Cols, f.Rows, err)
				}

			case FrameClose:
				s.setState(StateClosing)
				logrus.Debugf("terminal %s: client requested close", s.ID)
				return errClientClosed

			default:
				logrus.Warnf("terminal %s: ignoring unknown frame type %q", s.ID, f.Type)
			}
		}
	}
}
