package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/create2-factory-registry/api"
	"github.com/ruteri/create2-factory-registry/kms"
)

// Recovery states reported by GET /admin/status.
const (
	StateRecovering = "recovering"
	StateComplete   = "complete"
)

// AdminHandler collects deployer key shares from shareholders. Every request is
// signed with the same scheme as deployments; the signer must be a shareholder.
type AdminHandler struct {
	mu           sync.Mutex
	log          *slog.Logger
	kms          *kms.ShamirKMS
	completeChan chan struct{}
	completed    bool
}

func NewAdminHandler(log *slog.Logger, shamirKMS *kms.ShamirKMS) *AdminHandler {
	return &AdminHandler{
		log:          log,
		kms:          shamirKMS,
		completeChan: make(chan struct{}),
	}
}

// WaitForBootstrap blocks until the deployer key is rebuilt or ctx is cancelled.
func (h *AdminHandler) WaitForBootstrap(ctx context.Context) error {
	select {
	case <-h.completeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdminRouter returns the admin API router.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/admin/status", h.handleStatus)
	r.Post("/admin/share", h.handleSubmitShare)

	return r
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	needed, received := h.kms.Threshold()
	resp := api.AdminStatusResponse{
		State:     StateRecovering,
		Threshold: needed,
		Received:  received,
	}

	if key, err := h.kms.DeployerKey(); err == nil {
		deployer := crypto.PubkeyToAddress(key.PublicKey)
		resp.State = StateComplete
		resp.Deployer = &deployer
	}

	writeAdminJSON(w, http.StatusOK, resp)
}

// handleSubmitShare accepts one share.
//
// Endpoint: POST /admin/share
// Body: {"share": "0x..."}
func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	holder, err := api.VerifyRequest(r)
	if err != nil {
		h.log.Warn("Authentication failed", "err", err)
		writeAdminJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: err.Error()})
		return
	}

	var submission api.ShareSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		writeAdminJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid request body"})
		return
	}

	err = h.kms.SubmitShare(holder, submission.Share)
	switch {
	case errors.Is(err, kms.ErrUnknownShareholder):
		h.log.Warn("Share from unknown shareholder", "shareholder", holder.Hex())
		writeAdminJSON(w, http.StatusForbidden, api.ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, kms.ErrAlreadyUnlocked):
		writeAdminJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.log.Error("Share submission failed", "err", err, "shareholder", holder.Hex())
		writeAdminJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("share submission failed: %v", err)})
		return
	}

	if h.kms.IsUnlocked() {
		h.mu.Lock()
		if !h.completed {
			h.completed = true
			close(h.completeChan)
		}
		h.mu.Unlock()
		h.log.Info("Deployer key unlocked", "shareholder", holder.Hex())
	} else {
		h.log.Info("Share accepted", "shareholder", holder.Hex())
	}

	h.handleStatus(w, r)
}

func writeAdminJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
