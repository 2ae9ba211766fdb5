package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// httpServer provides common HTTP server functionality over TCP or a unix
// socket, selected by the listener string ("host:port" or "unix:///path").
type httpServer struct {
	name     string
	listener string
	server   *http.Server
	mux      *http.ServeMux
}

func newHTTPServer(name, listener string) *httpServer {
	return &httpServer{
		name:     name,
		listener: listener,
		mux:      http.NewServeMux(),
	}
}

func (s *httpServer) listen() (net.Listener, func(), error) {
	if path, ok := strings.CutPrefix(s.listener, "unix://"); ok {
		_ = os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %q: %w", path, err)
		}
		return ln, func() { _ = os.Remove(path) }, nil
	}

	ln, err := net.Listen("tcp", s.listener)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %q: %w", s.listener, err)
	}
	return ln, func() {}, nil
}

// serve starts the HTTP server and blocks until context is cancelled.
func (s *httpServer) serve(ctx context.Context) error {
	ln, cleanup, err := s.listen()
	if err != nil {
		return err
	}
	defer cleanup()

	s.server = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		logrus.Infof("starting %s httpserver on %q", s.name, ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	defer func() {
		_ = s.server.Close()
		_ = ln.Close()
		logrus.Infof("%s httpserver stopped", s.name)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("%s httpserver error: %w", s.name, err)
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
