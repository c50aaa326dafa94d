package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snaptrans/snaptrans/internal/coordinator"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/ocr"
)

// Handlers implements the HTTP endpoints.
type Handlers struct {
	logger      *observability.Logger
	coord       *coordinator.Coordinator
	maxFileSize int64
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(logger *observability.Logger, coord *coordinator.Coordinator, maxFileSize int64) *Handlers {
	if maxFileSize <= 0 {
		maxFileSize = 10 << 20
	}
	return &Handlers{
		logger:      logger.WithComponent("api"),
		coord:       coord,
		maxFileSize: maxFileSize,
	}
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","service":"snaptrans"}`))
}

// UploadSingle handles POST /upload: one multipart image streamed back as
// SSE progress frames.
func (h *Handlers) UploadSingle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "no image file uploaded")
		return
	}
	defer file.Close()

	upload, err := h.readUpload(file, header, r.FormValue("cached") == "true")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.coord.Stream(r.Context(), w, []coordinator.Upload{*upload}); err != nil {
		h.logger.Error().Err(err).Msg("Upload stream failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// UploadArray handles POST /upload/array: multiple multipart images sharing
// one SSE stream, each with independent per-file progress.
func (h *Handlers) UploadArray(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["images"]) == 0 {
		h.writeError(w, http.StatusBadRequest, "no image files uploaded")
		return
	}

	useCache := r.FormValue("cached") == "true"
	headers := r.MultipartForm.File["images"]
	uploads := make([]coordinator.Upload, 0, len(headers))

	// Validate everything up front: a bad file rejects the request before
	// any job is created.
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("open %s: %v", header.Filename, err))
			return
		}

		upload, err := h.readUpload(file, header, useCache)
		file.Close()
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", header.Filename, err))
			return
		}

		uploads = append(uploads, *upload)
	}

	if err := h.coord.Stream(r.Context(), w, uploads); err != nil {
		h.logger.Error().Err(err).Msg("Upload stream failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Result handles GET /result/{jobId}.
func (h *Handlers) Result(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	res, err := h.coord.Result(r.Context(), jobID)
	if errors.Is(err, coordinator.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Result lookup failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch res.State {
	case job.StateCompleted:
		if len(res.PDF) == 0 {
			h.writeError(w, http.StatusInternalServerError, "invalid PDF generated")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename=result.pdf")
		w.Write(res.PDF)
	case job.StateFailed:
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("job %s failed: %s", jobID, res.FailureReason))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"state":    string(res.State),
			"fileName": res.FileName,
		})
	}
}

// readUpload validates one uploaded file: size limit and image decodability,
// both checked before any job exists.
func (h *Handlers) readUpload(file multipart.File, header *multipart.FileHeader, useCache bool) (*coordinator.Upload, error) {
	if header.Size > h.maxFileSize {
		return nil, fmt.Errorf("file exceeds %d byte limit", h.maxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > h.maxFileSize {
		return nil, fmt.Errorf("file exceeds %d byte limit", h.maxFileSize)
	}

	if _, err := ocr.Normalize(data); err != nil {
		return nil, fmt.Errorf("unsupported image: %w", err)
	}

	return &coordinator.Upload{
		FileName: header.Filename,
		Image:    data,
		UseCache: useCache,
	}, nil
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
