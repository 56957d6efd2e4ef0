package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/testweb/testweb/internal/common/health"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testweb/orchestrator"
)

const (
	maxConfigBytes     = 1 << 20
	healthCheckTimeout = 5 * time.Second
)

// TestService is the subset of the orchestrator exposed over HTTP.
type TestService interface {
	StartTest(testType domain.TestType, config map[string]interface{}, callbacks orchestrator.Callbacks) (*orchestrator.Handle, error)
	CancelTest(id string) bool
	GetStatus(id string) (domain.Job, bool)
	GetHistory(limit int) []domain.Job
	GetRunning() []domain.Job
	CleanupCompletedTests() int
	HealthCheck(ctx context.Context) error
}

type handlers struct {
	service TestService
}

// NewRouter builds the HTTP API. metricsHandler may be nil, in which case /metrics is not served.
func NewRouter(service TestService, metricsHandler http.Handler) http.Handler {
	h := &handlers{service: service}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/api/tests", func(r chi.Router) {
		r.Get("/", h.listTests)
		r.Post("/cleanup", h.cleanup)
		r.Post("/{type}", h.startTest)
		r.Get("/{id}", h.getTest)
		r.Delete("/{id}", h.cancelTest)
	})

	r.Method(http.MethodGet, "/health", health.NewHealthCheckHttpHandler(health.CheckerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		return service.HealthCheck(ctx)
	})))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

type startResponse struct {
	Id string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) startTest(w http.ResponseWriter, r *http.Request) {
	testType, err := domain.ParseTestType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	config := map[string]interface{}{}
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBytes))
		if err := decoder.Decode(&config); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid test config"))
			return
		}
	}

	handle, err := h.service.StartTest(testType, config, orchestrator.Callbacks{})
	if errors.Is(err, orchestrator.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{Id: handle.ID()})
}

func (h *handlers) getTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.service.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("test %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) cancelTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.service.CancelTest(id) {
		writeError(w, http.StatusNotFound, errors.Errorf("no running test %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listTests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if running := query.Get("running"); running != "" {
		onlyRunning, err := strconv.ParseBool(running)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid running parameter"))
			return
		}
		if onlyRunning {
			writeJSON(w, http.StatusOK, h.service.GetRunning())
			return
		}
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid limit parameter"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.service.GetHistory(limit))
}

func (h *handlers) cleanup(w http.ResponseWriter, _ *http.Request) {
	h.service.CleanupCompletedTests()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
