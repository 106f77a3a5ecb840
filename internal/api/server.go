// Package api exposes the localhost control surface a frontend drives:
// session verbs, directory search, the nearby-helpers view, notices and
// credential management.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/big-matrix/sosagent/internal/credentials"
	"github.com/big-matrix/sosagent/internal/directory"
	"github.com/big-matrix/sosagent/internal/helpers"
	"github.com/big-matrix/sosagent/internal/notify"
	"github.com/big-matrix/sosagent/internal/session"
)

// Server is the control API.
type Server struct {
	session   *session.Session
	directory *directory.Directory
	tracker   *helpers.Tracker
	store     *credentials.Store
	notices   *notify.Bus
	limiter   *rate.Limiter
	logger    *zap.Logger

	httpServer *http.Server
}

// New creates the control API server listening on addr.
func New(
	addr string,
	sess *session.Session,
	dir *directory.Directory,
	tracker *helpers.Tracker,
	store *credentials.Store,
	notices *notify.Bus,
	limit rate.Limit,
	burst int,
	logger *zap.Logger,
) *Server {
	s := &Server{
		session:   sess,
		directory: dir,
		tracker:   tracker,
		store:     store,
		notices:   notices,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.rateLimit)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/session", s.handleGetSession).Methods(http.MethodGet)
	apiRouter.HandleFunc("/session/open", s.handleOpenSession).Methods(http.MethodPost)
	apiRouter.HandleFunc("/session/mode", s.handleSetMode).Methods(http.MethodPost)
	apiRouter.HandleFunc("/session/targets/toggle", s.handleToggleTarget).Methods(http.MethodPost)
	apiRouter.HandleFunc("/session/confirm", s.handleConfirm).Methods(http.MethodPost)
	apiRouter.HandleFunc("/session/cancel", s.handleCancel).Methods(http.MethodPost)

	apiRouter.HandleFunc("/users", s.handleUsers).Methods(http.MethodGet)
	apiRouter.HandleFunc("/helpers", s.handleHelpers).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notices", s.handleNotices).Methods(http.MethodGet)

	apiRouter.HandleFunc("/credentials", s.handleSaveToken).Methods(http.MethodPut)
	apiRouter.HandleFunc("/credentials", s.handleClearToken).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/contacts", s.handleListContacts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/contacts", s.handleSaveContact).Methods(http.MethodPost)
	apiRouter.HandleFunc("/contacts/{id}", s.handleRemoveContact).Methods(http.MethodDelete)

	return router
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("control API listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// rateLimit applies a shared token bucket to every request. The control
// API is localhost-only, so one bucket suffices.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
