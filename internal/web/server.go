// Package web is the JSON admin surface colocated with the scheduler:
// health, login, run status and a manual run trigger. No HTML is rendered.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/punch-scheduler/internal/auth"
	"github.com/example/punch-scheduler/internal/checkin"
)

type Server struct {
	Auth   *auth.Store
	Engine *checkin.Engine
	Log    *logrus.Entry

	// RunContext is the lifetime context manual runs are attached to, so a
	// server shutdown also cancels an in-flight triggered run.
	RunContext context.Context
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/status", s.Auth.RequireAuth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/run", s.Auth.RequireAuth(http.HandlerFunc(s.handleRun)))

	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	if err := s.Auth.Authenticate(r.Context(), body.Username, body.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		s.Log.WithError(err).Error("login failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if err := s.Auth.SetSession(w, r, body.Username); err != nil {
		s.Log.WithError(err).Error("session encode failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, last := s.Engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"last_run": last,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	state, _ := s.Engine.Snapshot()
	if state != checkin.StateIdle {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	user, _ := auth.UsernameFromContext(r.Context())
	s.Log.WithField("user", user).Info("manual run triggered")

	runCtx := s.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	go func() {
		if err := s.Engine.Run(runCtx); err != nil && !errors.Is(err, checkin.ErrBusy) {
			s.Log.WithError(err).Error("triggered run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
