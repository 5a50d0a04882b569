// Package handler exposes report imports and ledger summaries over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
	"github.com/FACorreiaa/billing-ingest/pkg/storage"
)

const defaultMaxUpload = 32 << 20

// ImportService is the part of the import service the handler needs
type ImportService interface {
	Import(ctx context.Context, req service.FileRequest) (*model.ImportOutcome, error)
	MonthSummary(ctx context.Context, ownerID uuid.UUID, month time.Time) (*service.MonthSummary, error)
}

// Inbox stores uploads for the next batch run
type Inbox interface {
	Save(ctx context.Context, name string, r io.Reader) (*storage.FileInfo, error)
}

// ImportHandler serves the import API
type ImportHandler struct {
	svc       ImportService
	inbox     Inbox
	maxUpload int64
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(svc ImportService, logger *slog.Logger) *ImportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportHandler{
		svc:       svc,
		maxUpload: defaultMaxUpload,
		logger:    logger,
	}
}

// WithMaxUpload caps the size of an upload request body
func (h *ImportHandler) WithMaxUpload(n int64) *ImportHandler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// WithInbox enables POST /v1/inbox, which queues uploads for the batch runner
func (h *ImportHandler) WithInbox(inbox Inbox) *ImportHandler {
	h.inbox = inbox
	return h
}

// Register adds the API routes to mux
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/imports/{kind}", h.Import)
	if h.inbox != nil {
		mux.HandleFunc("POST /v1/inbox", h.Enqueue)
	}
	mux.HandleFunc("GET /v1/owners/{id}/summary", h.Summary)
	mux.HandleFunc("GET /healthz", h.Health)
}

// fileErrorResponse is the body of a rejected file
type fileErrorResponse struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind"`
	Stage model.Stage     `json:"stage"`
}

// Import handles POST /v1/imports/{kind}
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	kind, ok := model.ParseReportKind(r.PathValue("kind"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown report kind "+r.PathValue("kind"))
		return
	}

	defer removeForm(r)
	file, header, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("failed to read upload", slog.String("file", header.Filename), slog.Any("error", err))
		WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	req := service.FileRequest{Name: header.Filename, Data: data, Kind: kind}
	if req.OwnerID, err = optionalUUID(r.FormValue("owner_id")); err != nil {
		WriteError(w, http.StatusBadRequest, "owner_id must be a UUID")
		return
	}
	providerID, err := optionalUUID(r.FormValue("provider_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "provider_id must be a UUID")
		return
	}
	if providerID != uuid.Nil {
		req.ProviderID = &providerID
	}
	importedBy, err := optionalUUID(r.Header.Get("X-User-ID"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "X-User-ID must be a UUID")
		return
	}
	if importedBy != uuid.Nil {
		req.ImportedBy = &importedBy
	}

	outcome, err := h.svc.Import(r.Context(), req)
	if err != nil {
		h.writeImportError(w, err)
		return
	}

	h.logger.Info("file imported via api",
		slog.String("file", outcome.FileName),
		slog.String("kind", string(outcome.Kind)),
		slog.Int("inserted", outcome.Inserted),
		slog.Int("failed", outcome.Failed),
	)
	WriteJSON(w, http.StatusOK, outcome)
}

// Enqueue handles POST /v1/inbox. The file is stored as uploaded and picked
// up by the next batch run.
func (h *ImportHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	defer removeForm(r)
	file, header, ok := h.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !storage.IsReportFile(header.Filename) {
		WriteError(w, http.StatusBadRequest, "not a report file: "+header.Filename)
		return
	}

	info, err := h.inbox.Save(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("failed to store upload", slog.String("file", header.Filename), slog.Any("error", err))
		WriteError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	h.logger.Info("file queued via api", slog.String("file", info.Name), slog.Int64("size", info.Size))
	WriteJSON(w, http.StatusAccepted, info)
}

// formFile reads the "file" part of a size-capped multipart upload. On false
// the response has been written.
func (h *ImportHandler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return nil, nil, false
		}
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file is required")
		return nil, nil, false
	}
	return file, header, true
}

func (h *ImportHandler) writeImportError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var fileErr *model.FileError
	if errors.As(err, &fileErr) {
		WriteJSON(w, http.StatusUnprocessableEntity, fileErrorResponse{
			Error: fileErr.Error(),
			Kind:  fileErr.Kind(),
			Stage: fileErr.Stage,
		})
		return
	}

	h.logger.Error("import failed", slog.Any("error", err))
	WriteError(w, http.StatusInternalServerError, "import failed")
}

// Summary handles GET /v1/owners/{id}/summary?month=YYYY-MM
func (h *ImportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "owner id must be a UUID")
		return
	}

	month, err := service.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.svc.MonthSummary(r.Context(), ownerID, month)
	if err != nil {
		h.logger.Error("failed to build month summary",
			slog.String("owner_id", ownerID.String()),
			slog.Any("error", err),
		)
		WriteError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// Health handles GET /healthz
func (h *ImportHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s = strings.TrimSpace(s); s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
