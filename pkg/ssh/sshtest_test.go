package ssh

import (
	"net"
	"strconv"
	"testing"

	gliderssh "github.com/gliderlabs/ssh"

	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/store"
)

const (
	testUser     = "tester"
	testPassword = "opensesame"
)

// startTestServer runs an in-process sshd that accepts testUser/testPassword
// and dispatches sessions to handler. Returns the listen host and port.
func startTestServer(t *testing.T, handler gliderssh.Handler) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &gliderssh.Server{
		Handler: handler,
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			return ctx.User() == testUser && password == testPassword
		},
	}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func testHost(addr string, port int) *store.Host {
	return &store.Host{ID: 1, Name: "test-box", Addr: addr, Port: port}
}

func testCredential() *store.Credential {
	return &store.Credential{ID: 1, Kind: store.KindPassword, Username: testUser}
}

func testSecret() *secret.Secret {
	return &secret.Secret{Kind: store.KindPassword, Password: testPassword}
}

// echoHandler replies to exec requests with the raw command on stdout.
func echoHandler(s gliderssh.Session) {
	s.Write([]byte(s.RawCommand())) //nolint:errcheck
}
