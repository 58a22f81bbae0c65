// Package api exposes the upload orchestrator over a thin JSON HTTP
// surface. Handlers translate between wire shapes and orchestrator calls;
// all business rules live in pkg/upload.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/platform"
	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/upload"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// DefaultMaxChunkBytes caps a chunk request body. The largest per-platform
// chunk size wins when it is bigger.
const DefaultMaxChunkBytes = 512 << 20

// Config holds configuration for the Handler.
type Config struct {
	// MaxChunkBytes caps the request body of a chunk upload.
	// 0 means DefaultMaxChunkBytes.
	MaxChunkBytes int64
}

// Handler routes the session query API.
type Handler struct {
	orch *upload.Orchestrator
	cfg  Config
	mux  *http.ServeMux
}

// NewHandler creates the API handler.
func NewHandler(orch *upload.Orchestrator, cfg Config) *Handler {
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}
	h := &Handler{
		orch: orch,
		cfg:  cfg,
		mux:  http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /v1/uploads", h.initialize)
	h.mux.HandleFunc("GET /v1/uploads", h.list)
	h.mux.HandleFunc("GET /v1/uploads/{id}", h.progress)
	h.mux.HandleFunc("PUT /v1/uploads/{id}/chunks/{index}", h.uploadChunk)
	h.mux.HandleFunc("GET /v1/uploads/{id}/resume", h.resume)
	h.mux.HandleFunc("POST /v1/uploads/{id}/cancel", h.cancel)
	h.mux.HandleFunc("DELETE /v1/uploads/{id}", h.deleteSession)
}

type initializeRequest struct {
	OwnerID     string         `json:"owner_id"`
	Platform    types.Platform `json:"platform"`
	FileName    string         `json:"file_name"`
	MIMEType    string         `json:"mime_type"`
	TotalSize   uint64         `json:"total_size"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	SourceURLs  []string       `json:"source_urls,omitempty"`
	Caption     string         `json:"caption,omitempty"`
	Location    string         `json:"location,omitempty"`
}

type initializeResponse struct {
	SessionID  string `json:"session_id"`
	ChunkSize  uint64 `json:"chunk_size"`
	ChunkCount int    `json:"chunk_count"`
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s, err := h.orch.Initialize(r.Context(), upload.InitRequest{
		OwnerID:  req.OwnerID,
		Platform: req.Platform,
		Meta: platform.FileMetadata{
			Name:        req.FileName,
			MIMEType:    req.MIMEType,
			TotalSize:   req.TotalSize,
			Title:       req.Title,
			Description: req.Description,
			SourceURL:   req.SourceURL,
			SourceURLs:  req.SourceURLs,
		},
		Caption:  req.Caption,
		Location: req.Location,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, initializeResponse{
		SessionID:  s.ID,
		ChunkSize:  s.ChunkSize,
		ChunkCount: len(s.Chunks),
	})
}

func (h *Handler) uploadChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "chunk index must be an integer")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "chunk_too_large", err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s, err := h.orch.UploadChunk(r.Context(), id, index, data)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      s.ID,
		"status":          s.Status,
		"uploaded_chunks": s.UploadedChunks(),
		"total_chunks":    len(s.Chunks),
		"remote_asset_id": s.RemoteAssetID,
	})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.orch.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

type resumeResponse struct {
	SessionID     string `json:"session_id"`
	ChunkSize     uint64 `json:"chunk_size"`
	MissingChunks []int  `json:"missing_chunks"`
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	missing, err := h.orch.Resume(r.Context(), id)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	p, err := h.orch.Progress(r.Context(), id)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resumeResponse{
		SessionID:     id,
		ChunkSize:     p.ChunkSize,
		MissingChunks: missing,
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Cancel(r.Context(), r.PathValue("id")); err != nil {
		h.writeUploadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeUploadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "owner_id is required")
		return
	}
	sessions, err := h.orch.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// === Helpers ===

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("api: response encode failed")
	}
}

// writeUploadError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	cat := uperr.CategoryOf(err)
	status := http.StatusInternalServerError
	switch cat {
	case uperr.CategoryValidation:
		status = http.StatusBadRequest
	case uperr.CategoryAuth:
		status = http.StatusUnauthorized
	case uperr.CategoryNotFound:
		status = http.StatusNotFound
	case uperr.CategoryProtocol:
		status = http.StatusBadGateway
	case uperr.CategoryTransient:
		status = http.StatusServiceUnavailable
	}
	h.writeError(w, status, cat.String(), err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, errorResponse{
		Error:   errType,
		Message: message,
	})
}
