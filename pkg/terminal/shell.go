package terminal

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
)

// Shell is an interactive remote shell with a PTY.
type Shell interface {
	io.Reader
	io.Writer
	// Resize propagates a terminal geometry change to the remote PTY.
	Resize(rows, cols int) error
	// Close releases the shell channel. Must be idempotent and must not
	// affect the transport it is multiplexed over.
	Close() error
}

// sshShell runs a login shell in one channel of a pooled connection.
type sshShell struct {
	sess   *cryptossh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	closeOnce sync.Once
}

// StartShell opens a shell channel with a PTY of the given geometry.
// Zero rows or cols fall back to the defaults.
func StartShell(conn *ssh.Connection, rows, cols int) (Shell, error) {
	if rows <= 0 {
		rows = define.DefaultTermRows
	}
	if cols <= 0 {
		cols = define.DefaultTermCols
	}

	sess, err := conn.NewSession()
	if err != nil {
		return nil, err
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.IUTF8:         1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(define.DefaultTermType, rows, cols, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Stderr is merged into the PTY stream; no separate pipe.
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	logrus.Debugf("terminal: shell started on %s (%dx%d)", conn.Addr(), cols, rows)
	return &sshShell{sess: sess, stdin: stdin, stdout: stdout}, nil
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Resize(rows, cols int) error {
	return s.sess.WindowChange(rows, cols)
}

func (s *sshShell) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if err := s.sess.Close(); err != nil && err != io.EOF {
			logrus.Debugf("terminal: close shell channel: %v", err)
		}
	})
	return nil
}
