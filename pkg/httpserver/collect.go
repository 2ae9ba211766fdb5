package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/laoqin2024/LT-panle/pkg/facts"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
)

type pairRequest struct {
	HostID       int64 `json:"host_id"`
	CredentialID int64 `json:"credential_id"`
}

func decodePairRequest(w http.ResponseWriter, r *http.Request) *pairRequest {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil
	}

	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrResponse{Error: "invalid json"})
		return nil
	}
	return &req
}

type collectResponse struct {
	HostID int64        `json:"host_id"`
	Facts  *facts.Facts `json:"info"`
}

// handleCollect runs the inventory battery against the host and persists
// the result. Partial failures still produce a stored document; they are
// listed inside it rather than failing the request.
func (s *APIServer) handleCollect(w http.ResponseWriter, r *http.Request) {
	req := decodePairRequest(w, r)
	if req == nil {
		return
	}
	ctx := r.Context()

	conn, err := s.acquire(ctx, req.HostID, req.CredentialID)
	if err != nil {
		WriteError(w, err)
		return
	}

	collected := facts.NewCollector(ssh.NewExecutor(conn)).Collect(ctx)

	doc, err := json.Marshal(collected)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.hosts.SetHostFacts(ctx, req.HostID, doc); err != nil {
		logrus.Warnf("api: failed to persist facts for host %d: %v", req.HostID, err)
	}
	if err := s.hosts.SetHostStatus(ctx, req.HostID, "online"); err != nil {
		logrus.Warnf("api: failed to update status for host %d: %v", req.HostID, err)
	}

	WriteJSON(w, http.StatusOK, collectResponse{HostID: req.HostID, Facts: collected})
}

type disconnectResponse struct {
	Disconnected bool `json:"disconnected"`
}

// handleDisconnect drops the pooled connection for the pair. Idempotent: a
// pair with no pooled connection reports disconnected=false.
func (s *APIServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	req := decodePairRequest(w, r)
	if req == nil {
		return
	}

	evicted := s.registry.Evict(req.HostID, req.CredentialID)
	WriteJSON(w, http.StatusOK, disconnectResponse{Disconnected: evicted})
}
