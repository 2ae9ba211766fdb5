// Package ssh establishes and pools authenticated connections to managed
// hosts and runs commands over them.
package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/laoqin2024/LT-panle/pkg/store"
)

var (
	// ErrTransport covers connection failures with no more specific cause.
	ErrTransport = errors.New("ssh transport error")
	// ErrDialTimeout means the target did not answer within the connect window.
	ErrDialTimeout = errors.New("connection timed out")
	// ErrDNSResolution means the target address did not resolve.
	ErrDNSResolution = errors.New("hostname could not be resolved")
	// ErrHostUnreachable means the network refused or could not route the dial.
	ErrHostUnreachable = errors.New("host unreachable")
	// ErrJumpHostNotImplemented rejects hosts configured with an intermediary.
	ErrJumpHostNotImplemented = errors.New("jump host connections are not supported")
	// ErrExecTimeout means a command exceeded its execution window.
	ErrExecTimeout = errors.New("command execution timed out")
)

// AuthError is an authentication rejection with credential-kind-specific
// guidance for the operator.
type AuthError struct {
	Kind store.CredentialKind
	Err  error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case store.KindPassword:
		return fmt.Sprintf("authentication failed: check the username and password (%v)", e.Err)
	case store.KindSSHKey:
		return fmt.Sprintf("authentication failed: check that the public key is authorized on the host and the username matches (%v)", e.Err)
	default:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// classifyDialError maps a raw dial failure onto a sentinel so the HTTP
// surface can pick the right status without string matching.
func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDialTimeout, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return fmt.Errorf("%w: %v", ErrHostUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// isAuthFailure recognizes the handshake rejection produced by the ssh
// library when no offered method succeeds. The library exposes no typed
// error for this case.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
