// Package httpserver exposes the session manager over HTTP: interactive
// terminals on a websocket, one-shot and streamed command execution, fact
// collection and connection management.
package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/config"
	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
	"github.com/laoqin2024/LT-panle/pkg/store"
)

// APIServer is the panel-facing HTTP surface.
//
// Endpoints:
//   - GET  /healthz                 - daemon health and resource usage
//   - GET  /servers/terminal        - interactive terminal (websocket)
//   - POST /servers/exec            - one-shot command execution
//   - POST /servers/exec/stream     - command execution (SSE streaming output)
//   - POST /servers/collect         - collect host facts
//   - POST /servers/disconnect      - drop the pooled connection for a pair
type APIServer struct {
	cfg      *config.Config
	hosts    store.HostStore
	creds    store.CredentialStore
	tokens   store.TokenVerifier
	resolver *secret.Resolver
	factory  *ssh.Factory
	registry *ssh.Registry

	srv *httpServer
	sse *sseServer
}

func NewAPIServer(cfg *config.Config, hosts store.HostStore, creds store.CredentialStore,
	tokens store.TokenVerifier, resolver *secret.Resolver, factory *ssh.Factory,
	registry *ssh.Registry) *APIServer {
	return &APIServer{
		cfg:      cfg,
		hosts:    hosts,
		creds:    creds,
		tokens:   tokens,
		resolver: resolver,
		factory:  factory,
		registry: registry,
		srv:      newHTTPServer("panel-api", cfg.Listen),
		sse:      newSSEServer(),
	}
}

// routes registers all handlers and returns the mux.
func (s *APIServer) routes() http.Handler {
	s.srv.mux.HandleFunc("/healthz", s.handleHealth)
	s.srv.mux.HandleFunc("/servers/terminal", s.withAuth(s.handleTerminal))
	s.srv.mux.HandleFunc("/servers/exec", s.withAuth(s.handleExec))
	s.srv.mux.HandleFunc("/servers/exec/stream", s.withAuth(s.handleExecStream))
	s.srv.mux.HandleFunc("/servers/collect", s.withAuth(s.handleCollect))
	s.srv.mux.HandleFunc("/servers/disconnect", s.withAuth(s.handleDisconnect))
	return s.srv.mux
}

// Start begins serving requests. Blocks until context is cancelled, then
// drains the connection pool.
func (s *APIServer) Start(ctx context.Context) error {
	s.routes()
	defer s.registry.Shutdown()
	return s.srv.serve(ctx)
}

// callerToken pulls the token from the Authorization header, falling back
// to the query string for websocket and SSE clients that cannot set headers.
func callerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *APIServer) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.tokens.Verify(callerToken(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		logrus.Debugf("api: %s %s by %s", r.Method, r.URL.Path, caller.Name)
		next(w, r)
	}
}

// acquire returns the pooled connection for a host/credential pair,
// establishing and caching a fresh one on a miss.
func (s *APIServer) acquire(ctx context.Context, hostID, credID int64) (*ssh.Connection, error) {
	host, err := s.hosts.GetHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	cred, err := s.creds.GetCredential(ctx, credID)
	if err != nil {
		return nil, err
	}

	if conn, ok := s.registry.Get(hostID, credID); ok {
		return conn, nil
	}

	sec, err := s.resolver.Resolve(cred)
	if err != nil {
		return nil, err
	}
	conn, err := s.factory.Open(ctx, host, cred, sec)
	if err != nil {
		return nil, err
	}
	s.registry.Put(conn)
	return conn, nil
}
