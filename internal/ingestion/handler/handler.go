package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
)

type DocumentService interface {
	Put(ctx context.Context, docID, content string) (*ingestion.DocumentResponse, error)
	Delete(ctx context.Context, docID string) (*ingestion.DocumentResponse, error)
	Status(ctx context.Context, docID string) (*ingestion.DocumentResponse, error)
}

type Handler struct {
	service DocumentService
	logger  *slog.Logger
}

func New(service DocumentService) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.Put)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Get)
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := r.PathValue("id")
	var req ingestion.DocumentRequest
	body := http.MaxBytesReader(w, r.Body, validator.MaxContentLength+4096)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateDocument(docID, req.Content); err != nil {
		h.writeValidation(w, err)
		return
	}

	resp, err := h.service.Put(ctx, docID, req.Content)
	if err != nil {
		h.fail(ctx, w, "document write failed", docID, err)
		return
	}
	logger.FromContext(ctx).Info("document accepted", "doc_id", docID, "published", resp.Published)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := r.PathValue("id")
	if err := validator.ValidateDocumentID(docID); err != nil {
		h.writeValidation(w, err)
		return
	}
	resp, err := h.service.Delete(ctx, docID)
	if err != nil {
		h.fail(ctx, w, "document delete failed", docID, err)
		return
	}
	logger.FromContext(ctx).Info("document removal accepted", "doc_id", docID, "published", resp.Published)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Get returns the stored lifecycle status of a document.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := r.PathValue("id")
	if err := validator.ValidateDocumentID(docID); err != nil {
		h.writeValidation(w, err)
		return
	}
	resp, err := h.service.Status(ctx, docID)
	if err != nil {
		h.fail(ctx, w, "document status lookup failed", docID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg, docID string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(ctx).Error(msg, "doc_id", docID, "error", err, "status_code", status)
	if status == http.StatusNotFound {
		h.writeError(w, status, "document not found")
		return
	}
	h.writeError(w, status, msg)
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
