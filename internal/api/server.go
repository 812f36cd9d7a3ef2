package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/store"
	"content-pipeline-scheduler/internal/telemetry"
	"content-pipeline-scheduler/internal/trigger"
	"content-pipeline-scheduler/internal/webhook"
)

// SecretHeader carries the shared secret workers send with every callback.
const SecretHeader = "X-WEBHOOK-SECRET"

// Store is the persistence used by the admin endpoints.
type Store interface {
	CreateWorkflow(ctx context.Context, wf models.Workflow, triggers []models.TriggerRow) (models.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (models.Workflow, error)
	SetWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) error
	ResetTestStatus(ctx context.Context, id string) error
	GetWork(ctx context.Context, id string) (models.Work, error)
	ListExecutionLogs(ctx context.Context, workID string) ([]models.ExecutionLog, error)
	Ping(ctx context.Context) error
}

// CallbackHandler reconciles worker callbacks.
type CallbackHandler interface {
	Handle(ctx context.Context, kind webhook.Kind, n webhook.Notification) error
}

// TestRunner starts manual validation runs.
type TestRunner interface {
	DispatchTestRun(ctx context.Context, workflowID string) (models.Work, error)
}

// TestRunLimiter throttles manual test runs per workflow.
type TestRunLimiter interface {
	AllowTestRun(ctx context.Context, workflowID string) (bool, error)
}

// Deps groups the collaborators of the HTTP server. Limiter may be nil.
type Deps struct {
	Store      Store
	Reconciler CallbackHandler
	Runner     TestRunner
	Limiter    TestRunLimiter
}

// Server wires HTTP handlers for worker callbacks and workflow administration.
type Server struct {
	cfg      config.Config
	deps     Deps
	loc      *time.Location
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// New constructs the API server.
func New(cfg config.Config, deps Deps, logger *zap.SugaredLogger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		loc:      loc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("api"),
	}, nil
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/{kind}", s.handleWebhook)
	})

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkflow)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Post("/{id}/activate", s.handleSetStatus(models.WorkflowActive))
		r.Post("/{id}/deactivate", s.handleSetStatus(models.WorkflowInactive))
		r.Post("/{id}/test-run", s.handleTestRun)
		r.Post("/{id}/test-status/reset", s.handleResetTestStatus)
	})

	r.Get("/works/{id}", s.handleGetWork)
	r.Get("/works/{id}/logs", s.handleWorkLogs)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSecret rejects callbacks without the shared secret. An empty
// configured secret disables the check.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookSecret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
				s.logger.Warnw("webhook secret mismatch", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	kind, err := webhook.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var n webhook.Notification
	if !s.decode(w, r, &n) {
		return
	}
	if err := s.deps.Reconciler.Handle(r.Context(), kind, n); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createWorkflowRequest struct {
	Name          string                `json:"name" validate:"required,max=200"`
	SiteURL       string                `json:"site_url" validate:"required,url"`
	TrendCategory string                `json:"trend_category" validate:"max=100"`
	BlogType      string                `json:"blog_type" validate:"required"`
	BlogURL       string                `json:"blog_url" validate:"required,url"`
	Recurrence    models.RecurrenceRule `json:"recurrence"`
}

type workflowResponse struct {
	Workflow models.Workflow         `json:"workflow"`
	Triggers map[models.Job][]string `json:"triggers,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if !s.decode(w, r, &req) {
		return
	}
	wf := models.Workflow{
		Name:          req.Name,
		Status:        models.WorkflowPreRegistered,
		TestStatus:    models.TestNotTested,
		SiteURL:       req.SiteURL,
		TrendCategory: req.TrendCategory,
		BlogType:      req.BlogType,
		BlogURL:       req.BlogURL,
		Recurrence:    req.Recurrence,
	}

	// Compile before anything is written so a bad rule leaves no partial schedule.
	rows, err := trigger.TriggerRows("", req.Recurrence, s.loc, s.cfg.BlogUploadOffset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.deps.Store.CreateWorkflow(r.Context(), wf, rows)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Infow("workflow created", "workflow_id", created.ID, "repeat", created.Recurrence.RepeatType, "triggers", len(rows))
	writeJSON(w, http.StatusCreated, workflowResponse{Workflow: created, Triggers: groupTriggers(rows)})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: wf})
}

func (s *Server) handleSetStatus(status models.WorkflowStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.deps.Store.SetWorkflowStatus(r.Context(), id, status); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Infow("workflow status changed", "workflow_id", id, "status", status)
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	}
}

func (s *Server) handleTestRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Limiter != nil {
		allowed, err := s.deps.Limiter.AllowTestRun(r.Context(), id)
		if err != nil {
			s.fail(w, r, errors.Wrap(err, "rate limit"))
			return
		}
		if !allowed {
			telemetry.TestRunRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "test run rate limited")
			return
		}
	}
	work, err := s.deps.Runner.DispatchTestRun(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, work)
}

func (s *Server) handleResetTestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.ResetTestStatus(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Infow("workflow test status reset", "workflow_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"test_status": string(models.TestNotTested)})
}

func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	work, err := s.deps.Store.GetWork(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

func (s *Server) handleWorkLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetWork(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.deps.Store.ListExecutionLogs(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, verrs[0].Namespace()+" failed "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trigger.ErrInvalidRecurrence):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, webhook.ErrUnknownKind):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, webhook.ErrWorkNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, webhook.ErrTerminalWork):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func groupTriggers(rows []models.TriggerRow) map[models.Job][]string {
	out := make(map[models.Job][]string, len(models.Jobs))
	for _, row := range rows {
		out[row.Job] = append(out[row.Job], row.Expression)
	}
	return out
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
