package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/store"
)

// Factory turns host and credential records into live connections.
type Factory struct {
	connectTimeout time.Duration
	keepalive      time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConnectTimeout sets the dial and handshake window.
func WithConnectTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.connectTimeout = d }
}

// WithKeepalive sets the keepalive interval (0 to disable).
func WithKeepalive(d time.Duration) FactoryOption {
	return func(f *Factory) { f.keepalive = d }
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		connectTimeout: define.DefaultConnectTimeout,
		keepalive:      define.DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open establishes an authenticated connection to the host using resolved
// secret material. Hosts configured with a jump host are rejected before any
// network activity.
func (f *Factory) Open(ctx context.Context, host *store.Host, cred *store.Credential, sec *secret.Secret) (*Connection, error) {
	if host.JumpHostID != 0 {
		return nil, fmt.Errorf("%w: host %q routes via host %d", ErrJumpHostNotImplemented, host.Name, host.JumpHostID)
	}

	port := host.Port
	if port == 0 {
		port = define.DefaultSSHPort
	}
	addr := net.JoinHostPort(host.Addr, strconv.Itoa(port))

	auth, err := authMethod(sec)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         f.connectTimeout,
	}

	dialer := &net.Dialer{Timeout: f.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}

	// ClientConfig.Timeout does not bound the handshake itself; a target
	// that accepts TCP but never speaks would hang here without a deadline.
	if f.connectTimeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(f.connectTimeout))
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		netConn.Close()
		if isAuthFailure(err) {
			return nil, &AuthError{Kind: cred.Kind, Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: handshake with %s: %v", ErrDialTimeout, addr, err)
		}
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrTransport, addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	conn := &Connection{
		HostID:       host.ID,
		CredentialID: cred.ID,
		addr:         addr,
		client:       ssh.NewClient(clientConn, chans, reqs),
		closed:       make(chan struct{}),
	}

	if f.keepalive > 0 {
		go conn.keepaliveLoop(f.keepalive)
	}

	logrus.Infof("ssh: connected to %s@%s (host %d, credential %d)",
		cred.Username, addr, host.ID, cred.ID)
	return conn, nil
}

func authMethod(sec *secret.Secret) (ssh.AuthMethod, error) {
	switch sec.Kind {
	case store.KindPassword:
		return ssh.Password(sec.Password), nil
	case store.KindSSHKey:
		return ssh.PublicKeys(sec.Signer), nil
	default:
		return nil, fmt.Errorf("unsupported secret kind %q", sec.Kind)
	}
}

// Connection is one live authenticated transport to a managed host.
// Terminal sessions and command executions multiplex over it as channels;
// closing a channel never tears the transport down.
type Connection struct {
	HostID       int64
	CredentialID int64

	addr   string
	client *ssh.Client

	closeOnce sync.Once
	closed    chan struct{}
}

// Alive probes the transport with a keepalive round trip. A dead transport
// reports false and should be evicted by the caller.
func (c *Connection) Alive() bool {
	if c.isClosed() {
		return false
	}
	if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		logrus.Debugf("ssh: liveness probe on %s failed: %v", c.addr, err)
		return false
	}
	return true
}

// NewSession opens a new channel over the transport.
func (c *Connection) NewSession() (*ssh.Session, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("%w: connection to %s is closed", ErrTransport, c.addr)
	}
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel on %s: %v", ErrTransport, c.addr, err)
	}
	return sess, nil
}

// Addr returns the remote "host:port" this connection targets.
func (c *Connection) Addr() string {
	return c.addr
}

func (c *Connection) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logrus.Debugf("ssh: keepalive on %s failed: %v", c.addr, err)
				return
			}
		}
	}
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close tears the transport down. Only the registry and process shutdown
// call this; session teardown must not.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.client.Close(); err != nil {
			logrus.Debugf("ssh: close %s: %v", c.addr, err)
		}
		logrus.Infof("ssh: connection to %s closed", c.addr)
	})
	return nil
}
