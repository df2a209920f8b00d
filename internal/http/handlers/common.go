package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iago/fleet-reports/internal/blob"
	"github.com/iago/fleet-reports/internal/domain"
	"github.com/iago/fleet-reports/internal/http/middleware"
	"github.com/iago/fleet-reports/internal/linksign"
	"github.com/iago/fleet-reports/internal/reportapi"
	"github.com/iago/fleet-reports/internal/repository"
	"github.com/iago/fleet-reports/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const idempotencyTTL = 24 * time.Hour

type Options struct {
	Jobs   *service.JobsService
	Events *service.JobEvents
	// PublicBaseURL prefixes signed download links. When empty the
	// request's own scheme and host are used.
	PublicBaseURL  string
	AllowedOrigins []string
	Logger         *slog.Logger
}

type API struct {
	jobs          *service.JobsService
	events        *service.JobEvents
	idempotency   *idempotencyStore
	publicBaseURL string
	logger        *slog.Logger
	upgrader      websocket.Upgrader
}

func NewAPI(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	events := opts.Events
	if events == nil {
		events = service.NewJobEvents()
	}
	origins := middleware.NewOriginMatcher(opts.AllowedOrigins)
	return &API{
		jobs:          opts.Jobs,
		events:        events,
		idempotency:   newIdempotencyStore(),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return origins.Allowed(r.Header.Get("Origin"))
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, reportapi.ErrorEnvelope{
		Error:     reportapi.ErrorBody{Code: code, Message: message},
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// writeServiceError maps service and storage errors onto the wire codes.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrUnknownReportKind):
		writeError(w, r, http.StatusBadRequest, reportapi.CodeUnknownReportKind, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, reportapi.CodeNotFound, "job not found")
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, r, http.StatusNotFound, reportapi.CodeNotFound, "artifact not found")
	case errors.Is(err, linksign.ErrInvalidLink), errors.Is(err, linksign.ErrExpiredLink):
		writeError(w, r, http.StatusNotFound, reportapi.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrNotReady):
		writeError(w, r, http.StatusConflict, reportapi.CodeNotReady, err.Error())
	default:
		api.logger.ErrorContext(r.Context(), fallback,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, reportapi.CodeInternal, fallback)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, reportapi.CodeMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func parseOptionalDateTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		parsed, err = time.Parse(time.DateOnly, value)
		if err != nil {
			return nil, errInvalidPayload
		}
	}
	return &parsed, nil
}

func statusResponse(job *domain.ReportJob) reportapi.StatusResponse {
	response := reportapi.StatusResponse{
		JobID:      job.ID,
		ReportKind: job.ReportKind,
		Status:     reportapi.Status(job.Status),
		Progress:   job.Progress,
		Message:    job.Message,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.HasArtifact() {
		response.Artifact = &reportapi.ArtifactInfo{
			ContentType: job.ArtifactContentType,
			Filename:    job.ArtifactFilename,
			SizeBytes:   job.ArtifactSize,
		}
	}
	return response
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
	// ready is closed once the owning request stored a job or gave the key up.
	ready chan struct{}
}

func (e *idempotencyEntry) pending() bool {
	return e.JobID == ""
}

// idempotencyStore reserves a key before the job is submitted so concurrent
// requests with one key create a single job.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	now     func() time.Time
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]*idempotencyEntry),
		now:     time.Now,
	}
}

// Reserve returns owner=true when the caller must submit the job and then
// call Complete or Release. Otherwise it returns a copy of the existing
// entry, which may still be pending.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (entry idempotencyEntry, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for existing, stored := range s.entries {
		if !stored.pending() && now.Sub(stored.CreatedAt) > idempotencyTTL {
			delete(s.entries, existing)
		}
	}
	if stored, ok := s.entries[key]; ok {
		return *stored, false
	}
	stored := &idempotencyEntry{
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ready:       make(chan struct{}),
	}
	s.entries[key] = stored
	return *stored, true
}

func (s *idempotencyStore) Complete(key, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[key]
	if !ok || !stored.pending() {
		return
	}
	stored.JobID = jobID
	stored.CreatedAt = s.now()
	close(stored.ready)
}

// Release frees a reservation whose submission failed.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[key]
	if !ok || !stored.pending() {
		return
	}
	delete(s.entries, key)
	close(stored.ready)
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
