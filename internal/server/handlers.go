package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/engine"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// maxBodyBytes caps request bodies to prevent resource exhaustion.
const maxBodyBytes = 1 << 20

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	engine *engine.Engine
}

// NewAPIHandlers creates a new APIHandlers instance.
func NewAPIHandlers(eng *engine.Engine) *APIHandlers {
	return &APIHandlers{engine: eng}
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type createMemoryRequest struct {
	Owner   string `json:"owner"`
	Content string `json:"content"`
}

type deleteMemoriesRequest struct {
	Owner           string `json:"owner"`
	ContentContains string `json:"content_contains,omitempty"`
	MemoryType      string `json:"memory_type,omitempty"`
}

type retrieveRequest struct {
	Owner     string   `json:"owner"`
	Query     string   `json:"query"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     *int     `json:"limit,omitempty"`
}

type interactionRequest struct {
	Owner             string `json:"owner"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response,omitempty"`
}

// CreateMemory handles POST /api/memories - store an explicit memory.
func (h *APIHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.engine.Remember(r.Context(), req.Owner, req.Content)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// DeleteMemories handles DELETE /api/memories - remove matching memories.
func (h *APIHandlers) DeleteMemories(w http.ResponseWriter, r *http.Request) {
	var req deleteMemoriesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pred := storage.DeletePredicate{
		ContentContains: req.ContentContains,
		MemoryType:      types.MemoryType(req.MemoryType),
	}
	if pred.Empty() {
		respondError(w, http.StatusBadRequest, "at least one predicate field is required", nil)
		return
	}

	removed, err := h.engine.Forget(r.Context(), req.Owner, pred)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Retrieve handles POST /api/retrieve - semantic query with cache.
// Omitted threshold and limit fall back to the configured defaults.
func (h *APIHandlers) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	threshold := h.engine.DefaultThreshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	limit := h.engine.DefaultLimit()
	if req.Limit != nil {
		limit = *req.Limit
	}

	result, err := h.engine.Retrieve(r.Context(), req.Owner, req.Query, threshold, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ProcessInteraction handles POST /api/interactions - learn from one turn.
func (h *APIHandlers) ProcessInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.engine.ProcessInteraction(r.Context(), req.Owner, engine.Turn{
		UserMessage:       req.UserMessage,
		AssistantResponse: req.AssistantResponse,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if created == nil {
		created = []types.MemoryEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"created": created})
}

// GetStats handles GET /api/stats - cache and store metrics.
func (h *APIHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// decodeBody parses a JSON request body, responding with 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// respondEngineError maps engine error taxonomy to HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidOwner):
		respondCoded(w, http.StatusBadRequest, "INVALID_OWNER", err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondCoded(w, http.StatusBadRequest, "INVALID_INPUT", err)
	case errors.Is(err, embedding.ErrUnavailable):
		respondCoded(w, http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE", err)
	case errors.Is(err, storage.ErrUnavailable):
		respondCoded(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err)
	default:
		respondCoded(w, http.StatusInternalServerError, "INTERNAL", err)
	}
}

func respondCoded(w http.ResponseWriter, statusCode int, code string, err error) {
	respondJSON(w, statusCode, ErrorResponse{Error: err.Error(), Code: code})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more we can do
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, errResp)
}
