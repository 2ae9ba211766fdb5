package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/laoqin2024/LT-panle/pkg/define"
)

// Result is the outcome of one completed remote command. A nonzero exit
// code is a valid result, not an error; Success mirrors exit code zero.
type Result struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_status"`
	Stdout   string `json:"output"`
	Stderr   string `json:"error"`
	Success  bool   `json:"success"`
}

// Executor runs commands over one connection.
type Executor struct {
	conn *Connection
}

func NewExecutor(conn *Connection) *Executor {
	return &Executor{conn: conn}
}

// Run executes command in its own channel and captures both streams.
// It returns a Result whenever the command itself completed, including with
// a nonzero exit code. Errors are reserved for transport failures and the
// execution window elapsing. timeout <= 0 applies the default; values above
// the cap are clamped.
func (e *Executor) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = define.DefaultExecTimeout
	}
	if timeout > define.MaxExecTimeout {
		timeout = define.MaxExecTimeout
	}

	sess, err := e.conn.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	logrus.Debugf("exec: running %q on %s (timeout %s)", command, e.conn.Addr(), timeout)

	if err := sess.Start(command); err != nil {
		return nil, fmt.Errorf("%w: start %q: %v", ErrTransport, command, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return nil, ctx.Err()

	case <-timer.C:
		// Closing the channel is the only interrupt we can rely on; many
		// sshds ignore signal requests on exec channels.
		sess.Close()
		<-done
		return nil, fmt.Errorf("%w: %q did not finish within %s", ErrExecTimeout, command, timeout)

	case err := <-done:
		return e.result(command, stdout.String(), stderr.String(), err)
	}
}

func (e *Executor) result(command, stdout, stderr string, waitErr error) (*Result, error) {
	res := &Result{
		Command: command,
		Stdout:  stdout,
		Stderr:  stderr,
	}

	if waitErr == nil {
		res.Success = true
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		logrus.Debugf("exec: %q exited %d on %s", command, res.ExitCode, e.conn.Addr())
		return res, nil
	}

	return nil, fmt.Errorf("%w: wait for %q: %v", ErrTransport, command, waitErr)
}

// Process is a streaming command execution. Output arrives on the pipes
// while the command runs; Wait reports the final result.
type Process struct {
	Command string
	Stdout  io.Reader
	Stderr  io.Reader

	sess *ssh.Session
	done chan error
}

// StartStream begins command execution and exposes its output streams for
// incremental consumption. The caller must drain both pipes and call Wait.
func (e *Executor) StartStream(command string) (*Process, error) {
	sess, err := e.conn.NewSession()
	if err != nil {
		return nil, err
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrTransport, err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrTransport, err)
	}

	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: start %q: %v", ErrTransport, command, err)
	}

	p := &Process{
		Command: command,
		Stdout:  stdout,
		Stderr:  stderr,
		sess:    sess,
		done:    make(chan error, 1),
	}
	go func() { p.done <- sess.Wait() }()
	return p, nil
}

// Wait blocks until the command finishes and returns its exit code.
// Like Run, a nonzero exit is a result rather than an error.
func (p *Process) Wait() (int, error) {
	err := <-p.done
	p.sess.Close()

	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 0, fmt.Errorf("%w: wait for %q: %v", ErrTransport, p.Command, err)
}

// Kill tears the channel down, interrupting the command.
func (p *Process) Kill() {
	p.sess.Close()
}
