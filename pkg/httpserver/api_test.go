package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/gorilla/websocket"

	"github.com/laoqin2024/LT-panle/pkg/config"
	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
	"github.com/laoqin2024/LT-panle/pkg/store"
	"github.com/laoqin2024/LT-panle/pkg/terminal"
)

const (
	testToken    = "test-api-token"
	testUser     = "tester"
	testPassword = "opensesame"

	goodCredID = 1
	badCredID  = 2
	testHostID = 1
)

const testMeminfo = "MemTotal:        4000000 kB\nMemFree:         1000000 kB\nBuffers:          200000 kB\nCached:           800000 kB\n"

// testTargetHandler emulates the managed host: a PTY request gets an echo
// shell, exec requests get scripted replies.
func testTargetHandler(s gliderssh.Session) {
	if _, _, isPty := s.Pty(); isPty {
		io.Copy(s, s) //nolint:errcheck
		return
	}

	switch s.RawCommand() {
	case "echo ok":
		io.WriteString(s, "ok\n") //nolint:errcheck
	case "fail":
		io.WriteString(s.Stderr(), "it broke\n") //nolint:errcheck
		s.Exit(3)                                //nolint:errcheck
	case "cat /proc/meminfo":
		io.WriteString(s, testMeminfo) //nolint:errcheck
	default:
		io.WriteString(s.Stderr(), "command not found\n") //nolint:errcheck
		s.Exit(127)                                       //nolint:errcheck
	}
}

type testAPI struct {
	api *APIServer
	srv *httptest.Server

	// logins counts successful handshakes against the fake host, one per
	// factory Open.
	logins atomic.Int32

	// "sleep" exec sessions report here when they start and when the
	// daemon tears their channel down.
	sleepStarted chan struct{}
	sleepKilled  chan struct{}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	a := &testAPI{
		sleepStarted: make(chan struct{}, 4),
		sleepKilled:  make(chan struct{}, 4),
	}

	// In-process sshd standing in for the managed host.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sshd := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			if s.RawCommand() == "sleep" {
				a.sleepStarted <- struct{}{}
				<-s.Context().Done()
				a.sleepKilled <- struct{}{}
				return
			}
			testTargetHandler(s)
		},
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			if ctx.User() == testUser && password == testPassword {
				a.logins.Add(1)
				return true
			}
			return false
		},
	}
	go sshd.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { sshd.Close() })

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	cfg := &config.Config{
		EncryptionKey: "api-test-passphrase",
		APIToken:      testToken,
	}
	cipher := secret.NewCipher(cfg.EncryptionKey)

	goodBlob, err := cipher.Encrypt(testPassword)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	badBlob, err := cipher.Encrypt("definitely wrong")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	st, err := store.OpenFileStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st.AddHost(&store.Host{ID: testHostID, Name: "target", Addr: host, Port: port})
	st.AddCredential(&store.Credential{
		ID: goodCredID, Kind: store.KindPassword, Username: testUser, EncryptedSecret: goodBlob,
	})
	st.AddCredential(&store.Credential{
		ID: badCredID, Kind: store.KindPassword, Username: testUser, EncryptedSecret: badBlob,
	})

	a.api = NewAPIServer(cfg, st, st,
		&store.StaticTokenVerifier{Token: testToken},
		secret.NewResolver(cipher),
		ssh.NewFactory(ssh.WithKeepalive(0)),
		ssh.NewRegistry())

	a.srv = httptest.NewServer(a.api.routes())
	t.Cleanup(func() {
		a.srv.Close()
		a.api.registry.Shutdown()
	})

	return a
}

func (a *testAPI) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var health healthResponse
	decodeBody(t, resp, &health)
	if health.Status != "ok" {
		t.Fatalf("health = %+v", health)
	}
}

func TestExecRequiresToken(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Post(a.srv.URL+"/servers/exec", "application/json",
		strings.NewReader(`{"host_id":1,"credential_id":1,"command":"echo ok"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestExecUnknownHost(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/servers/exec", execRequest{
		HostID: 999, CredentialID: goodCredID, Command: "echo ok",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// Two executions against the same pair reuse one pooled connection: the
// host sees exactly one handshake.
func TestExecReusesPooledConnection(t *testing.T) {
	a := newTestAPI(t)

	for i := 0; i < 2; i++ {
		resp := a.post(t, "/servers/exec", execRequest{
			HostID: testHostID, CredentialID: goodCredID, Command: "echo ok",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var res ssh.Result
		decodeBody(t, resp, &res)
		if !res.Success || res.Stdout != "ok\n" {
			t.Fatalf("result = %+v", res)
		}
	}

	if n := a.logins.Load(); n != 1 {
		t.Fatalf("handshakes = %d, want the second exec to reuse the pool", n)
	}
	if n := a.api.registry.Len(); n != 1 {
		t.Fatalf("pooled connections = %d, want 1", n)
	}
}

func TestExecNonzeroExitIsOK(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/servers/exec", execRequest{
		HostID: testHostID, CredentialID: goodCredID, Command: "fail",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want nonzero exit to still be 200", resp.StatusCode)
	}
	var res ssh.Result
	decodeBody(t, resp, &res)
	if res.Success || res.ExitCode != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Stderr, "it broke") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

// Dropping the SSE stream mid-command must kill the remote process rather
// than leave it running unobserved.
func TestExecStreamDisconnectKillsCommand(t *testing.T) {
	a := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, err := json.Marshal(execRequest{
		HostID: testHostID, CredentialID: goodCredID, Command: "sleep",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.srv.URL+"/servers/exec/stream", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	select {
	case <-a.sleepStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("remote command never started")
	}

	// Drop the stream while the command is still running.
	cancel()

	select {
	case <-a.sleepKilled:
	case <-time.After(5 * time.Second):
		t.Fatal("remote command survived the client disconnect")
	}
}

func TestExecBadCredential(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/servers/exec", execRequest{
		HostID: testHostID, CredentialID: badCredID, Command: "echo ok",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for auth rejection", resp.StatusCode)
	}
	if a.api.registry.Len() != 0 {
		t.Fatal("failed connection must not be pooled")
	}
}

func (a *testAPI) dialTerminal(t *testing.T, credID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") +
		fmt.Sprintf("/servers/terminal?host_id=%d&credential_id=%d&token=%s&rows=24&cols=80",
			testHostID, credID, testToken)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial terminal: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) *terminal.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	var f terminal.Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return &f
}

func TestTerminalSession(t *testing.T) {
	a := newTestAPI(t)
	ws := a.dialTerminal(t, goodCredID)

	if f := readFrame(t, ws); f.Type != terminal.FrameConnected {
		t.Fatalf("first frame = %+v", f)
	}

	if err := ws.WriteJSON(&terminal.Frame{Type: terminal.FrameInput, Data: "hello"}); err != nil {
		t.Fatalf("write input: %v", err)
	}

	// The echo shell sends our input back.
	var echoed string
	for !strings.Contains(echoed, "hello") {
		f := readFrame(t, ws)
		if f.Type != terminal.FrameOutput {
			t.Fatalf("unexpected frame %+v", f)
		}
		echoed += f.Data
	}

	if err := ws.WriteJSON(&terminal.Frame{Type: terminal.FrameClose}); err != nil {
		t.Fatalf("write close: %v", err)
	}

	// The server closes the websocket; the pooled transport stays.
	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	for {
		var f terminal.Frame
		if err := ws.ReadJSON(&f); err != nil {
			break
		}
	}
	if a.api.registry.Len() != 1 {
		t.Fatal("transport must survive terminal teardown")
	}
}

// A failed login yields a single error frame and nothing in the pool.
func TestTerminalBadCredential(t *testing.T) {
	a := newTestAPI(t)
	ws := a.dialTerminal(t, badCredID)

	f := readFrame(t, ws)
	if f.Type != terminal.FrameError {
		t.Fatalf("frame = %+v", f)
	}
	if !strings.Contains(f.Message, "authentication failed") {
		t.Fatalf("message = %q", f.Message)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	for {
		var next terminal.Frame
		if err := ws.ReadJSON(&next); err != nil {
			break
		}
		if next.Type == terminal.FrameError {
			t.Fatal("second error frame delivered")
		}
	}

	if a.api.registry.Len() != 0 {
		t.Fatal("failed connection must not be pooled")
	}
}

func TestCollectFacts(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/servers/collect", pairRequest{
		HostID: testHostID, CredentialID: goodCredID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out collectResponse
	decodeBody(t, resp, &out)
	if out.Facts == nil || out.Facts.Memory == nil {
		t.Fatalf("facts = %+v", out.Facts)
	}
	if out.Facts.Memory.Total != 4000000*1024 {
		t.Fatalf("memory total = %d", out.Facts.Memory.Total)
	}
	// The fake host only serves meminfo; everything else must degrade
	// into the error list instead of failing the request.
	if len(out.Facts.Errors) == 0 {
		t.Fatal("want partial failure errors recorded")
	}
}

func TestDisconnect(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/servers/exec", execRequest{
		HostID: testHostID, CredentialID: goodCredID, Command: "echo ok",
	})
	resp.Body.Close()
	if a.api.registry.Len() != 1 {
		t.Fatal("expected a pooled connection")
	}

	resp = a.post(t, "/servers/disconnect", pairRequest{
		HostID: testHostID, CredentialID: goodCredID,
	})
	var out disconnectResponse
	decodeBody(t, resp, &out)
	if !out.Disconnected {
		t.Fatal("want disconnected=true")
	}
	if a.api.registry.Len() != 0 {
		t.Fatal("pool must be empty after disconnect")
	}

	resp = a.post(t, "/servers/disconnect", pairRequest{
		HostID: testHostID, CredentialID: goodCredID,
	})
	decodeBody(t, resp, &out)
	if out.Disconnected {
		t.Fatal("second disconnect must be a no-op")
	}
}
