package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"

	"github.com/laoqin2024/LT-panle/pkg/ssh"
)

// execRequest targets one host/credential pair with either a raw command
// line or a bin with args, which is quoted before it hits the remote shell.
type execRequest struct {
	HostID       int64 `json:"host_id"`
	CredentialID int64 `json:"credential_id"`

	Command string   `json:"command,omitempty"`
	Bin     string   `json:"bin,omitempty"`
	Args    []string `json:"args,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (req *execRequest) commandLine() string {
	if req.Command != "" {
		return req.Command
	}
	if req.Bin != "" {
		return shellescape.QuoteCommand(append([]string{req.Bin}, req.Args...))
	}
	return ""
}

func (req *execRequest) timeout() time.Duration {
	return time.Duration(req.TimeoutSeconds) * time.Second
}

func decodeExecRequest(w http.ResponseWriter, r *http.Request) *execRequest {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil
	}

	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json"})
		return nil
	}
	if req.commandLine() == "" {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "command or bin is required"})
		return nil
	}
	return &req
}

// handleExec runs one command and returns the captured result. A nonzero
// exit code is still a 200: the execution itself succeeded.
func (s *APIServer) handleExec(w http.ResponseWriter, r *http.Request) {
	req := decodeExecRequest(w, r)
	if req == nil {
		return
	}

	conn, err := s.acquire(r.Context(), req.HostID, req.CredentialID)
	if err != nil {
		WriteError(w, err)
		return
	}

	res, err := ssh.NewExecutor(conn).Run(r.Context(), req.commandLine(), req.timeout())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleExecStream runs one command and streams its output over SSE as it
// is produced, for long builds and tails where a captured result is too
// late to be useful.
func (s *APIServer) handleExecStream(w http.ResponseWriter, r *http.Request) {
	req := decodeExecRequest(w, r)
	if req == nil {
		return
	}

	conn, err := s.acquire(r.Context(), req.HostID, req.CredentialID)
	if err != nil {
		WriteError(w, err)
		return
	}

	topic := "sess-" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithValue(r.Context(), sseTopicKey, topic)) //nolint:staticcheck
	defer cancel()

	go s.streamCommand(ctx, cancel, topic, conn, req)

	s.sse.ServeHTTP(w, r.WithContext(ctx))
}

func (s *APIServer) streamCommand(ctx context.Context, cancel context.CancelFunc, topic string, conn *ssh.Connection, req *execRequest) {
	defer cancel()

	proc, err := ssh.NewExecutor(conn).StartStream(req.commandLine())
	if err != nil {
		s.sse.publish(topic, sseTypeErr, "exec failed: "+err.Error())
		return
	}

	// A client that disconnects cancels ctx; take the remote command down
	// with it instead of letting it run to completion unobserved.
	stop := context.AfterFunc(ctx, proc.Kill)
	defer stop()

	timeout := req.timeout()
	if timeout > 0 {
		timer := time.AfterFunc(timeout, proc.Kill)
		defer timer.Stop()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(proc.Stdout)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			s.sse.publish(topic, sseTypeOut, sc.Text())
		}
	}()

	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(proc.Stderr)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			s.sse.publish(topic, sseTypeErr, sc.Text())
		}
	}()

	wg.Wait()

	code, err := proc.Wait()
	if err != nil {
		s.sse.publish(topic, sseTypeErr, "wait: "+err.Error())
		return
	}
	s.sse.publish(topic, sseTypeDone, strconv.Itoa(code))
}
