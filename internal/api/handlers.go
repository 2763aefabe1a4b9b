package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/phone"
	"github.com/go-chi/chi/v5"
)

// phoneCheckResult is the body of a successful POST /phone/validate.
type phoneCheckResult struct {
	phone.Feedback
	Formats *phone.Formats `json:"formats,omitempty"`
}

// writeEngineError maps engine errors to status codes.
func writeEngineError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, flow.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	slog.Error("Server."+op+": engine error", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		slog.Warn("Server.startSessionHandler: bad request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.engine.StartSession(r.Context(), strings.TrimSpace(req.UserID), strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeEngineError(w, err, "startSessionHandler")
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(reply))
}

func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.MessageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.postMessageHandler: bad request", "error", err, "sessionID", id)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.engine.HandleMessage(r.Context(), id, req.Text)
	if err != nil {
		writeEngineError(w, err, "postMessageHandler")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err, "getSessionHandler")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	existed, err := s.engine.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err, "deleteSessionHandler")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

func (s *Server) validatePhoneHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PhoneCheckRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := phoneCheckResult{Feedback: phone.ValidateProgressive(req.Input)}
	if res.Status == phone.StatusValid {
		if f, err := phone.Format(res.Result); err == nil {
			res.Formats = &f
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.GetLeads(r.Context())
	if err != nil {
		slog.Error("Server.listLeadsHandler: failed to load leads", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load leads")
		return
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"pending_nudges": s.engine.Nudges().Count(),
	})
}
