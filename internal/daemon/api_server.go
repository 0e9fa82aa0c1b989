package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stagewright/internal/actor"
	"stagewright/internal/api"
	"stagewright/internal/config"
	"stagewright/internal/logging"
	"stagewright/internal/transition"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	ops    api.Operations

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		ops:    d.service,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, s.withIdentity(h)))
	}
	handle("GET /api/status", s.handleStatus)
	handle("POST /api/notifications/test", s.handleTestNotification)
	handle("GET /api/stages", s.handleStages)
	handle("GET /api/projects/{id}", s.handleProject)
	handle("DELETE /api/projects/{id}/cache", s.handleInvalidate)
	handle("GET /api/projects/{id}/history", s.handleHistory)
	handle("GET /api/projects/{id}/transitions", s.handleAvailable)
	handle("POST /api/projects/{id}/transitions", s.handleTransition)
	handle("POST /api/projects/{id}/transitions/validate", s.handleValidate)
	handle("GET /api/projects/{id}/transitions/{stage}", s.handleCanTransition)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// withIdentity copies the caller identity headers and a request id into the
// request context. Missing identity is rejected later by the coordinator.
func (s *apiServer) withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := strings.TrimSpace(r.Header.Get(api.HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = actor.WithRequestID(ctx, requestID)
		w.Header().Set(api.HeaderRequestID, requestID)

		id := strings.TrimSpace(r.Header.Get(api.HeaderActorID))
		if id != "" {
			privilege, _ := actor.ParsePrivilege(r.Header.Get(api.HeaderPrivilege))
			ctx = actor.WithActor(ctx, actor.Actor{
				ID:           id,
				Organization: strings.TrimSpace(r.Header.Get(api.HeaderOrganization)),
				Privilege:    privilege,
			})
		}
		next(w, r.WithContext(ctx))
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{Name: dep.Name, Available: dep.Passed, Detail: dep.Detail}
	}
	watches := make([]api.WatchStatus, len(status.Watches))
	for i, watch := range status.Watches {
		watches[i] = api.WatchStatus{
			Organization: watch.Organization,
			Events:       watch.Stats.Events,
			Refreshes:    watch.Stats.Refreshes,
			Dropped:      watch.Stats.Dropped,
		}
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		StoreDriver:   status.StoreDriver,
		DatabasePath:  status.DatabasePath,
		LockFilePath:  status.LockFilePath,
		Workflow:      status.Workflow,
		CachedEntries: status.CachedEntries,
		Watches:       watches,
		Dependencies:  deps,
	})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeFailure(w, r, &transition.Error{
			Kind:    transition.KindBackendFailure,
			Reasons: []string{message},
			Err:     err,
		}, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.NotificationResult{Sent: sent, Message: message})
}

func (s *apiServer) handleStages(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.ops.Workflow(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, workflow)
}

func (s *apiServer) handleProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.ops.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.ops.Invalidate(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	verify := queryBool(r, "verify")
	history, err := s.ops.History(r.Context(), r.PathValue("id"), verify)
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *apiServer) handleAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := s.ops.Available(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, available)
}

func (s *apiServer) handleCanTransition(w http.ResponseWriter, r *http.Request) {
	answer, err := s.ops.CanTransition(r.Context(), r.PathValue("id"), r.PathValue("stage"))
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *apiServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := s.ops.Validate(r.Context(), r.PathValue("id"), req.Stage)
	if err != nil {
		s.writeFailure(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	outcome, err := s.ops.Transition(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeFailure(w, r, err, &outcome)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *apiServer) decodeRequest(w http.ResponseWriter, r *http.Request) (api.TransitionRequest, bool) {
	var req api.TransitionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeFailure(w, r, &transition.Error{
			Kind:    transition.KindInvalidOptions,
			Reasons: []string{"malformed request body"},
			Err:     err,
		}, nil)
		return api.TransitionRequest{}, false
	}
	return req, true
}

func queryBool(r *http.Request, key string) bool {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

// writeFailure answers with the structured error. A transition that got far
// enough to have an outcome ships it alongside so clients can tell whether
// the stage change committed.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error, outcome *api.TransitionOutcome) {
	status := api.StatusCode(err)
	resp := api.ErrorResponse{Error: api.FromError(err)}
	if outcome != nil && outcome.Phase != "" && outcome.Phase != string(transition.PhaseIdle) {
		resp.Outcome = outcome
	}
	logger := logging.WithContext(r.Context(), s.log())
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logger, "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String("kind", resp.Error.Kind),
		)
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
