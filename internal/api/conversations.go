package api

import (
	"errors"
	"net/http"

	"github.com/nugget/grantdesk/internal/agents"
	"github.com/nugget/grantdesk/internal/memory"
)

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	defs := agents.All()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":  len(defs),
		"agents": defs,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agentId")
	if agentID != "" {
		if _, err := agents.Parse(agentID); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	convs, err := s.conversations.List(r.Context(), q.Get("userId"), agentID, queryInt(r, "limit", 50))
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":         len(convs),
		"conversations": convs,
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.conversations.Get(r.Context(), id)
	if errors.Is(err, memory.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.conversations.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"deleted": id}, s.logger)
}
