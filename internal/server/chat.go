package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/turn"
)

// handleChat is the non-streaming binding: one request, one JSON response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	outcome, err := s.runner.Run(r.Context(), req.turnRequest())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to generate response.")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"response":       outcome.Response,
		"conversationId": outcome.ConversationID,
		"commands":       outcome.Commands,
		"timestamp":      timestamp(),
	})
}

// streamRecord is one SSE data record on the chunked binding.
type streamRecord struct {
	Type           string           `json:"type"`
	Content        string           `json:"content,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
	Commands       []command.Result `json:"commands,omitzero"`
	Timestamp      string           `json:"timestamp,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// handleChatStream is the chunked binding: the same turn, delivered as a
// stream of newline-delimited records and closed after the terminal one.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := &sseSink{w: w, flusher: flusher}
	_, err := s.runner.RunWithSink(r.Context(), req.turnRequest(), sink)
	if err != nil && !errors.Is(err, turn.ErrUpstream) {
		// Validation passed above; anything else is already on the wire.
		s.logger.Warn("stream turn failed", "error", err)
	}
}

// sseSink adapts turn output to SSE records. There is no explicit start
// record on this binding; the first chunk marks the start.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) write(rec streamRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Start(string) error { return nil }

func (s *sseSink) Chunk(_, delta string) error {
	return s.write(streamRecord{Type: "chunk", Content: delta})
}

func (s *sseSink) Complete(conversationID string, o turn.Outcome) error {
	commands := o.Commands
	if commands == nil {
		commands = []command.Result{}
	}
	return s.write(streamRecord{
		Type:           "complete",
		Content:        o.Response,
		ConversationID: conversationID,
		Commands:       commands,
		Timestamp:      timestamp(),
	})
}

func (s *sseSink) Error(message string) error {
	return s.write(streamRecord{Type: "error", Message: message})
}
