// Package mockbackend simulates the research backend's task endpoints so the
// admin console can be exercised locally: reindex launch, status, cancel, an
// SSE progress stream, and a chat echo.
package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/metrics"
	"github.com/JakeFAU/research-admin/internal/policy/ratelimit"
	"github.com/JakeFAU/research-admin/internal/storage/memory"
	"github.com/JakeFAU/research-admin/internal/task"
)

const (
	defaultHeartbeat      = 15 * time.Second
	defaultTotalItems     = 20
	defaultRequestTimeout = 30 * time.Second
	enqueueTimeout        = 5 * time.Second
)

// IDGenerator mints identifiers for tasks and messages.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Enqueuer schedules a stored task for execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Config controls the HTTP surface.
//   - TotalItems: items per reindex when the request names no sessions.
//   - Heartbeat: interval between SSE comment frames.
//   - RequestTimeout: deadline for non-streaming requests.
type Config struct {
	TotalItems     int
	Heartbeat      time.Duration
	RequestTimeout time.Duration
	// WriteRPS throttles mutating requests per client; zero disables it.
	WriteRPS   float64
	WriteBurst int
}

// Server wires HTTP handlers to the stores, the runner, and the stream broker.
type Server struct {
	router     chi.Router
	cfg        Config
	tasks      *memory.TaskStore
	chats      *memory.ChatStore
	runner     Enqueuer
	broker     *Broker
	taskIDs    IDGenerator
	messageIDs IDGenerator
	clock      Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	tasks *memory.TaskStore,
	chats *memory.ChatStore,
	runner Enqueuer,
	broker *Broker,
	taskIDs IDGenerator,
	messageIDs IDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Server {
	if cfg.TotalItems <= 0 {
		cfg.TotalItems = defaultTotalItems
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		tasks:      tasks,
		chats:      chats,
		runner:     runner,
		broker:     broker,
		taskIDs:    taskIDs,
		messageIDs: messageIDs,
		clock:      clock,
		logger:     logger,
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.WriteRPS, DefaultBurst: cfg.WriteBurst})

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Streams stay outside the timeout group since http.TimeoutHandler
	// buffers writes and cannot flush.
	r.Get("/api/admin/tasks/{taskId}/progress", s.streamProgress)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.With(limiter.Middleware("reindex")).Post("/api/admin/reindex", s.launchReindex)
		r.Get("/api/admin/tasks", s.listTasks)
		r.Get("/api/admin/tasks/{taskId}", s.getTask)
		r.With(limiter.Middleware("cancel")).Post("/api/admin/tasks/{taskId}/cancel", s.cancelTask)
		r.Get("/api/sessions/{sessionId}/chat", s.listChat)
		r.With(limiter.Middleware("chat")).Post("/api/sessions/{sessionId}/chat", s.postChat)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) launchReindex(w http.ResponseWriter, r *http.Request) {
	var req task.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.createReindex(r.Context(), req)
	var active *memory.ActiveTaskError
	switch {
	case errors.As(err, &active):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a reindex task is already running",
			"taskId": active.TaskID,
		})
		return
	case err != nil:
		s.logger.Error("launch reindex failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// createReindex stores and enqueues a reindex task. Without force it fails
// with *memory.ActiveTaskError while another reindex is unfinished. A task
// that cannot be enqueued is removed again so it never blocks later launches.
func (s *Server) createReindex(ctx context.Context, req task.LaunchRequest) (task.LaunchResponse, error) {
	taskID, err := s.taskIDs.NewID()
	if err != nil {
		return task.LaunchResponse{}, fmt.Errorf("generate task id: %w", err)
	}
	items := append([]string(nil), req.SessionIDs...)
	if len(items) == 0 {
		items = make([]string, s.cfg.TotalItems)
		for i := range items {
			items[i] = fmt.Sprintf("session-%03d", i+1)
		}
	}
	rec := memory.TaskRecord{
		Snapshot: task.ProgressEvent{
			TaskID:     taskID,
			TaskType:   task.TypeReindex,
			Status:     task.StatusPending,
			TotalItems: len(items),
			Message:    "queued",
			Errors:     []task.ItemError{},
		},
		Items:     items,
		Submitted: s.clock.Now(),
	}
	if req.Force {
		err = s.tasks.CreateTask(ctx, rec)
	} else {
		err = s.tasks.CreateExclusive(ctx, rec)
	}
	if err != nil {
		return task.LaunchResponse{}, fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.runner.Enqueue(queueCtx, taskID); err != nil {
		s.tasks.DeleteTask(context.WithoutCancel(ctx), taskID)
		return task.LaunchResponse{}, fmt.Errorf("enqueue task: %w", err)
	}
	s.logger.Info("reindex task accepted",
		zap.String("task_id", taskID),
		zap.Int("items", len(items)),
		zap.Bool("force", req.Force),
	)
	return task.LaunchResponse{
		TaskID:            taskID,
		TotalItemEstimate: len(items),
		ProgressURL:       "/api/admin/tasks/" + taskID + "/progress",
	}, nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	recs := s.tasks.ListTasks(r.Context())
	out := make([]task.ProgressEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	err := s.tasks.RequestCancel(r.Context(), taskID)
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, task.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "task already finished")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("task cancellation requested", zap.String("task_id", taskID))
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID, "status": "cancelling"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
