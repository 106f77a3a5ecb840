package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/big-matrix/sosagent/internal/credentials"
	"github.com/big-matrix/sosagent/internal/session"
)

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Open(); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode session.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.session.SetMode(req.Mode); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleToggleTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "a user id is required")
		return
	}

	if err := s.session.ToggleTarget(req.ID); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Confirm(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Cancel(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.directory.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to load user directory")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleHelpers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Helpers())
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notices.Recent())
}

func (s *Server) handleSaveToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "a token is required")
		return
	}

	if err := s.store.SaveToken(r.Context(), req.Token); err != nil {
		s.logger.Error("failed to save token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearToken(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearToken(r.Context()); err != nil {
		s.logger.Error("failed to clear token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.store.Contacts(r.Context())
	if err != nil {
		s.logger.Error("failed to list contacts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleSaveContact(w http.ResponseWriter, r *http.Request) {
	var contact credentials.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SaveContact(r.Context(), contact); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.RemoveContact(r.Context(), id); err != nil {
		s.logger.Error("failed to remove contact", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeSessionError maps state machine errors onto HTTP statuses: invalid
// phase transitions and validation failures are client errors, everything
// else is internal.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotSelecting),
		errors.Is(err, session.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoTargets):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
