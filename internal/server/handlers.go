package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comigor/chatproxy/internal/agent"
	"github.com/comigor/chatproxy/internal/conversation"
	"github.com/comigor/chatproxy/internal/logger"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response failed", "error", err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.L.Debug("chat body rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is required"})
		return
	}

	turn, err := s.agent.Process(r.Context(), r.Header.Get(SessionHeader), req.Message)
	if turn.Minted {
		w.Header().Set(SessionHeader, turn.SessionID)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Reply: turn.Reply})
	case errors.Is(err, agent.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is required"})
	default:
		logger.L.Error("process error", "session_id", turn.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "LLM request failed"})
	}
}

func (s *Server) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loadAll(r.Header.Get(SessionHeader)))
}

func (s *Server) handleRecentChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recentChats(r.Header.Get(SessionHeader)))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.clear(r.Context(), r.Header.Get(SessionHeader))
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

// loadAll returns the in-memory conversation; unknown sessions are not hydrated.
func (s *Server) loadAll(id string) []conversation.Entry {
	sess, ok := s.sessions.Lookup(id)
	if !ok {
		return []conversation.Entry{}
	}
	return sess.Snapshot()
}

func (s *Server) recentChats(id string) []conversation.Prompt {
	sess, ok := s.sessions.Lookup(id)
	if !ok {
		return []conversation.Prompt{}
	}
	return sess.RecentPrompts(s.recentPrompts)
}

// clear forgets the session in memory and on disk. Storage errors are logged only.
func (s *Server) clear(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.sessions.Remove(id)
	if err := s.store.Delete(ctx, id); err != nil {
		logger.L.Error("failed to delete stored messages", "session_id", id, "error", err)
	}
}
