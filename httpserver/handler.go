package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/create2-factory-registry/api"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/ruteri/create2-factory-registry/metrics"
	"github.com/ruteri/create2-factory-registry/registry"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// FactoryRegistry is the registry surface served over HTTP.
type FactoryRegistry interface {
	Create(ctx context.Context, req interfaces.CreateRequest) (common.Address, error)
	Length() int
	Last() (common.Address, error)
	At(index uint64) (common.Address, error)
	ByIdentity(identity common.Address) (common.Address, bool)
	IndexOf(address common.Address) (uint64, bool)
	All() []common.Address
	Owner() common.Address
	FactoryAddress() common.Address
	PredictAddress(salt interfaces.Salt, initCode []byte) common.Address
}

// Handler serves the registry API.
type Handler struct {
	registry FactoryRegistry
	metrics  *metrics.RegistryMetrics
	log      *slog.Logger
}

// NewHandler creates a handler backed by reg.
func NewHandler(reg FactoryRegistry, log *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		log:      log,
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deployments", h.HandleCreate)
		r.Get("/deployments", h.HandleList)
		r.Get("/deployments/length", h.HandleLength)
		r.Get("/deployments/last", h.HandleLast)
		r.Get("/deployments/{index}", h.HandleAt)
		r.Get("/identities/{identity}", h.HandleByIdentity)
		r.Post("/predict", h.HandlePredict)
		r.Get("/factory", h.HandleFactoryInfo)
	})
}

// decodeBody decodes a JSON request body. An oversized body keeps its
// *http.MaxBytesError so it maps to 413; other failures are errBadRequest.
func decodeBody(body io.Reader, out any) error {
	if err := json.NewDecoder(body).Decode(out); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// HandleCreate deploys and registers an instance.
//
// URL format: POST /api/v1/deployments
// Required headers:
//   - X-Factory-Signature: "<address>:<signature>" over the method, path and body
//
// Request body: api.CreateRequest. Responds 201 with api.CreateResponse.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	caller, err := api.VerifyRequest(r)
	if err != nil {
		h.log.Warn("Rejected deployment request", "err", err)
		h.observeCreate(err, start)
		h.writeError(w, err)
		return
	}

	var req api.CreateRequest
	if err := decodeBody(r.Body, &req); err != nil {
		h.observeCreate(err, start)
		h.writeError(w, err)
		return
	}

	value, err := req.ParsedValue()
	if err != nil {
		h.observeCreate(errBadRequest, start)
		h.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	address, err := h.registry.Create(r.Context(), interfaces.CreateRequest{
		Caller:   caller,
		Identity: req.Identity,
		InitCode: req.InitCode,
		Salt:     req.Salt,
		Value:    value,
		GasLimit: req.GasLimit,
	})
	h.observeCreate(err, start)
	if err != nil {
		h.log.Error("Deployment failed",
			slog.String("caller", caller.Hex()),
			slog.String("identity", req.Identity.Hex()),
			slog.String("salt", req.Salt.String()),
			"err", err)
		h.writeError(w, err)
		return
	}

	index, _ := h.registry.IndexOf(address)
	h.writeJSON(w, http.StatusCreated, api.CreateResponse{Address: address, Index: index})
}

// HandleList returns every registered instance in insertion order.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.ListResponse{Addresses: h.registry.All()})
}

func (h *Handler) HandleLength(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.LengthResponse{Length: h.registry.Length()})
}

func (h *Handler) HandleLast(w http.ResponseWriter, r *http.Request) {
	address, err := h.registry.Last()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AddressResponse{Address: address})
}

// HandleAt returns the instance at a decimal index.
//
// URL format: GET /api/v1/deployments/{index}
func (h *Handler) HandleAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid index", errBadRequest))
		return
	}

	address, err := h.registry.At(index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AddressResponse{Address: address})
}

// HandleByIdentity returns the instance most recently registered for an identity.
//
// URL format: GET /api/v1/identities/{identity}
func (h *Handler) HandleByIdentity(w http.ResponseWriter, r *http.Request) {
	identityHex := chi.URLParam(r, "identity")
	if !common.IsHexAddress(identityHex) {
		h.writeError(w, fmt.Errorf("%w: invalid identity address", errBadRequest))
		return
	}
	identity := common.HexToAddress(identityHex)

	address, ok := h.registry.ByIdentity(identity)
	if !ok {
		h.writeError(w, fmt.Errorf("%w: no instance for identity %s", errNotFound, identity.Hex()))
		return
	}
	h.writeJSON(w, http.StatusOK, api.IdentityResponse{Identity: identity, Address: address})
}

// HandlePredict computes a CREATE2 address without deploying.
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req api.PredictRequest
	if err := decodeBody(r.Body, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.InitCode) == 0 {
		h.writeError(w, registry.ErrEmptyInitCode)
		return
	}

	h.writeJSON(w, http.StatusOK, api.AddressResponse{Address: h.registry.PredictAddress(req.Salt, req.InitCode)})
}

func (h *Handler) HandleFactoryInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.FactoryInfoResponse{
		Factory: h.registry.FactoryAddress(),
		Owner:   h.registry.Owner(),
		Length:  h.registry.Length(),
	})
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

// statusFor maps registry and authentication errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrMissingSignature), errors.Is(err, api.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest), errors.Is(err, registry.ErrInvalidIdentity), errors.Is(err, registry.ErrEmptyInitCode):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDeployFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrIdentityMismatch):
		return http.StatusConflict
	case errors.Is(err, errNotFound), errors.Is(err, registry.ErrNoInstancesDeployed), errors.Is(err, registry.ErrIndexOutOfRange):
		return http.StatusNotFound
	default:
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

// outcomeFor classifies a Create result for metrics.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, api.ErrMissingSignature), errors.Is(err, api.ErrInvalidSignature), errors.Is(err, registry.ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, errBadRequest), errors.Is(err, registry.ErrInvalidIdentity), errors.Is(err, registry.ErrEmptyInitCode):
		return metrics.OutcomeInvalidInput
	case errors.Is(err, registry.ErrDeployFailed):
		return metrics.OutcomeDeployFailed
	case errors.Is(err, registry.ErrIdentityMismatch):
		return metrics.OutcomeIdentityMismatch
	case errors.Is(err, registry.ErrCommitFailed):
		return metrics.OutcomeCommitFailed
	default:
		return metrics.OutcomeError
	}
}

func (h *Handler) observeCreate(err error, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveCreate(outcomeFor(err), time.Since(start))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
