package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/nova/internal/turn"
)

// WebSocket event names, client to server and back.
const (
	EventChatMessage      = "chat_message"
	EventResponseStart    = "ai_response_start"
	EventResponseChunk    = "ai_response_chunk"
	EventResponseComplete = "ai_response_complete"
	EventError            = "error"
)

// wsEnvelope frames every message on the socket.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// handleWebSocket upgrades the connection and serves chat turns until the
// client goes away. Turns on one connection run sequentially, so the single
// writer rule of the websocket package holds by construction.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			s.logger.Info("client disconnected", "remote", conn.RemoteAddr().String())
			return
		}

		switch env.Event {
		case EventChatMessage:
			var req chatRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				s.emit(conn, EventError, map[string]string{"message": "malformed chat_message payload"})
				continue
			}
			s.serveTurn(conn, r, req)
		default:
			s.emit(conn, EventError, map[string]string{"message": "unknown event: " + env.Event})
		}
	}
}

func (s *Server) serveTurn(conn *websocket.Conn, r *http.Request, req chatRequest) {
	sink := &wsSink{server: s, conn: conn}
	_, err := s.runner.RunWithSink(r.Context(), req.turnRequest(), sink)
	switch {
	case errors.Is(err, turn.ErrEmptyMessage):
		s.emit(conn, EventError, map[string]string{"message": "Message is required"})
	case errors.Is(err, turn.ErrUpstream):
		// The sink already delivered the terminal error event.
	}
}

func (s *Server) emit(conn *websocket.Conn, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wsEnvelope{Event: event, Data: payload})
}

// wsSink adapts the turn output to websocket events.
type wsSink struct {
	server *Server
	conn   *websocket.Conn
}

func (ws *wsSink) Start(conversationID string) error {
	return ws.server.emit(ws.conn, EventResponseStart, map[string]string{
		"conversationId": conversationID,
	})
}

func (ws *wsSink) Chunk(conversationID, delta string) error {
	return ws.server.emit(ws.conn, EventResponseChunk, map[string]string{
		"chunk":          delta,
		"conversationId": conversationID,
	})
}

func (ws *wsSink) Complete(conversationID string, o turn.Outcome) error {
	return ws.server.emit(ws.conn, EventResponseComplete, map[string]any{
		"response":       o.Response,
		"conversationId": conversationID,
		"commands":       o.Commands,
	})
}

func (ws *wsSink) Error(message string) error {
	return ws.server.emit(ws.conn, EventError, map[string]string{"message": message})
}
