package archive

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HTTPHandler exposes the transition operations over REST. Requests are
// handled one at a time so objects are still processed sequentially.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
	router  chi.Router
	running sync.Mutex
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		service: service,
		logger:  logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/checksums", h.handleChecksum)
	r.Post("/api/v1/transitions", h.handleTransition)
	r.Post("/api/v1/transitions/all", h.handleTransitionAll)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

type settingsPayload struct {
	IngestBucket           string `json:"ingest_bucket"`
	ArchiveBucket          string `json:"archive_bucket"`
	ArchiveStorageClass    string `json:"archive_storage_class"`
	RemoveFromIngestBucket *bool  `json:"remove_from_ingest_bucket"`
}

func (p settingsPayload) settings() Settings {
	return Settings{
		IngestBucket:     p.IngestBucket,
		ArchiveBucket:    p.ArchiveBucket,
		StorageClass:     p.ArchiveStorageClass,
		RemoveFromIngest: p.RemoveFromIngestBucket,
	}
}

type transitionPayload struct {
	Key            string `json:"key"`
	ExpectedMD5Sum string `json:"expected_md5sum"`
	settingsPayload
}

type checksumPayload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleChecksum(w http.ResponseWriter, r *http.Request) {
	var body checksumPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	h.running.Lock()
	defer h.running.Unlock()

	d, err := h.service.ComputeChecksum(r.Context(), body.Bucket, body.Key)
	if err != nil {
		h.logger.Error("checksum failed", zap.String("key", body.Key), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket": body.Bucket,
		"key":    body.Key,
		"md5sum": d.Hex,
		"chunks": d.Chunks,
		"bytes":  d.Bytes,
	})
}

func (h *HTTPHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	h.running.Lock()
	defer h.running.Unlock()

	rec, err := h.service.Transition(r.Context(), Request{
		Key:            body.Key,
		ExpectedDigest: body.ExpectedMD5Sum,
		Settings:       body.settings(),
	})
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, recordJSON(rec))
}

func (h *HTTPHandler) handleTransitionAll(w http.ResponseWriter, r *http.Request) {
	var body settingsPayload
	// An empty body runs with the configured settings.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	h.running.Lock()
	defer h.running.Unlock()

	summary, err := h.service.TransitionAll(r.Context(), body.settings())
	if err != nil {
		h.logger.Error("transition all failed", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}

	failed := make(map[string]string, len(summary.Failed))
	for _, f := range summary.Failed {
		failed[f.Key] = f.Err.Error()
	}
	status := http.StatusOK
	if summary.HasFailures() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"transitioned": nonNil(summary.Transitioned),
		"skipped":      nonNil(summary.Skipped),
		"failed":       failed,
	})
}

func recordJSON(rec *Record) map[string]any {
	out := map[string]any{
		"key":             rec.Key,
		"ingest_bucket":   rec.IngestBucket,
		"archive_bucket":  rec.ArchiveBucket,
		"storage_class":   rec.StorageClass,
		"expected_md5sum": rec.ExpectedDigest,
		"computed_md5sum": rec.ComputedDigest,
		"bytes_copied":    rec.BytesCopied,
		"removed":         rec.Removed,
		"state":           rec.State,
	}
	if rec.Err != nil {
		out["failed_in"] = rec.FailedIn
		out["error"] = rec.Err.Error()
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrMissingChecksum):
		return http.StatusBadRequest
	case errors.Is(err, ErrChecksumMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyObjects):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStoreReadFailed), errors.Is(err, ErrStoreWriteFailed), errors.Is(err, ErrStoreDeleteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
