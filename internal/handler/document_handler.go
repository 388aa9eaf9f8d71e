package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"scroll-press/internal/clock"
	"scroll-press/internal/domain"
	"scroll-press/internal/middleware"
	"scroll-press/internal/observability"
	"scroll-press/internal/validator"
)

// multipartOverhead covers boundaries and part headers around the file.
const multipartOverhead = 64 << 10

// DocumentHandler accepts HTML uploads and serves accepted documents.
type DocumentHandler struct {
	validator *validator.Validator
	documents domain.DocumentRepository
	clock     clock.Clock
}

func NewDocumentHandler(v *validator.Validator, documents domain.DocumentRepository, clk clock.Clock) *DocumentHandler {
	return &DocumentHandler{validator: v, documents: documents, clock: clk}
}

type DocumentResponse struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename"`
	Size      int64           `json:"size"`
	URL       string          `json:"url"`
	CreatedAt time.Time       `json:"created_at"`
	Stats     validator.Stats `json:"stats"`
}

// Upload validates the "file" part of a multipart request and stores it.
// Policy rejections are answered with 422 and a machine-readable reason.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := h.validator.Config().MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxRequestBytes())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, r, http.StatusRequestEntityTooLarge, &validator.Rejection{
				Reason:  validator.ReasonTooLarge,
				Message: "upload exceeds the size limit",
			})
			return
		}
		respondError(w, http.StatusBadRequest, "Expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		internalError(w, r, "read upload failed", err)
		return
	}

	result, err := h.validator.ValidateFile(validator.Upload{
		Filename:     header.Filename,
		DeclaredMIME: header.Header.Get("Content-Type"),
		Data:         data,
		DeclaredSize: header.Size,
	})
	if err != nil {
		observability.UploadsValidatedTotal.WithLabelValues("error").Inc()
		internalError(w, r, "upload validation failed", err)
		return
	}
	if !result.Accepted() {
		h.reject(w, r, http.StatusUnprocessableEntity, result.Rejection)
		return
	}
	observability.UploadsValidatedTotal.WithLabelValues("accepted").Inc()

	doc := &domain.Document{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		Filename:  cleanFilename(header.Filename),
		Size:      int64(len(result.Content)),
		Content:   result.Content,
		CreatedAt: h.clock.Now(),
	}
	if err := h.documents.Create(r.Context(), doc); err != nil {
		internalError(w, r, "store document failed", err)
		return
	}

	observability.FromContext(r.Context()).Info("document accepted",
		slog.String("document_id", doc.ID),
		slog.Int64("size", doc.Size),
		slog.Int("external_links", result.Stats.ExternalLinks))

	respondJSON(w, http.StatusCreated, DocumentResponse{
		ID:        doc.ID,
		Filename:  doc.Filename,
		Size:      doc.Size,
		URL:       "/documents/" + doc.ID,
		CreatedAt: doc.CreatedAt,
		Stats:     result.Stats,
	})
}

// MaxRequestBytes bounds a whole upload request, multipart framing included.
func (h *DocumentHandler) MaxRequestBytes() int64 {
	return h.validator.Config().MaxUploadBytes + multipartOverhead
}

func (h *DocumentHandler) reject(w http.ResponseWriter, r *http.Request, status int, rej *validator.Rejection) {
	observability.UploadsValidatedTotal.WithLabelValues("rejected").Inc()
	observability.FromContext(r.Context()).Info("upload rejected",
		slog.String("reason", string(rej.Reason)),
		slog.String("element", rej.Element))
	respondJSON(w, status, rej)
}

// Serve writes an accepted document. The route must be wrapped in
// middleware.SandboxDocument.
func (h *DocumentHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusNotFound, "Document not found")
		return
	}

	doc, err := h.documents.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		respondError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		internalError(w, r, "load document failed", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

// cleanFilename keeps the base name and drops characters that do not
// belong in a header value.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "document.html"
	}
	return name
}
