package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/userlog"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries := s.store.ListConversations()
	if summaries == nil {
		summaries = []memory.Summary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages := s.store.Messages(id)
	if messages == nil {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"messages":       messages,
	})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.store.Clear(id)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"cleared":        true,
	})
}

// handleCommand runs a single directive directly, outside any chat turn.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
		Arg     string `json:"arg,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		s.writeError(w, http.StatusBadRequest, "Command is required")
		return
	}

	result := s.exec.Execute(r.Context(), command.Directive{Type: req.Command, Arg: req.Arg})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		city = "New York"
	}
	report, err := s.weather.Get(r.Context(), city)
	if err != nil {
		s.logger.Warn("weather lookup failed", "city", city, "error", err)
		s.writeError(w, http.StatusBadGateway, "Weather lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = "general"
	}
	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	digest, err := s.news.Get(r.Context(), category, count)
	if err != nil {
		s.logger.Warn("news lookup failed", "category", category, "error", err)
		s.writeError(w, http.StatusBadGateway, "News lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, digest)
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "Name and email are required")
		return
	}

	p, err := s.users.Register(req.Name, req.Email)
	if err != nil {
		s.logger.Error("user registration failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.users.Events(id)
	if err != nil {
		if errors.Is(err, userlog.ErrInvalidUserID) {
			s.writeError(w, http.StatusBadRequest, "Invalid user id")
			return
		}
		s.logger.Error("user events read failed", "user", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read user events")
		return
	}
	if events == nil {
		events = []userlog.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"userId": id,
		"events": events,
	})
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p := s.profiles.Get(id)
	if p == nil {
		s.writeError(w, http.StatusNotFound, "No profile for user")
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"provider":  s.model.Provider(),
		"model":     s.model.ModelName(),
		"timestamp": timestamp(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.collector.Snapshot())
}
