// Package server exposes the assistant over three bindings: a WebSocket
// event stream, a chunked SSE endpoint and a plain JSON endpoint. All three
// drive the same turn.Runner.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/llm"
	"github.com/raphaelgruber/nova/internal/lookup"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/raphaelgruber/nova/internal/profile"
	"github.com/raphaelgruber/nova/internal/turn"
	"github.com/raphaelgruber/nova/internal/userlog"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	runner    *turn.Runner
	store     *memory.Store
	exec      *command.Executor
	weather   *lookup.WeatherClient
	news      *lookup.NewsClient
	users     *userlog.Log
	profiles  *profile.Service
	collector *metrics.Collector
	model     *llm.Model
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// Deps bundles everything the server needs.
type Deps struct {
	Runner    *turn.Runner
	Store     *memory.Store
	Exec      *command.Executor
	Weather   *lookup.WeatherClient
	News      *lookup.NewsClient
	Users     *userlog.Log
	Profiles  *profile.Service
	Collector *metrics.Collector
	Model     *llm.Model
	Logger    *slog.Logger
}

// New creates the server.
func New(deps Deps) *Server {
	return &Server{
		runner:    deps.Runner,
		store:     deps.Store,
		exec:      deps.Exec,
		weather:   deps.Weather,
		news:      deps.News,
		users:     deps.Users,
		profiles:  deps.Profiles,
		collector: deps.Collector,
		model:     deps.Model,
		logger:    deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local assistant; the UI is served same-origin
			},
		},
	}
}

// Handler builds the route table wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /api/history/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/history/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleClearConversation)

	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/weather", s.handleWeather)
	mux.HandleFunc("GET /api/news", s.handleNews)

	mux.HandleFunc("POST /api/users/register", s.handleRegisterUser)
	mux.HandleFunc("GET /api/users/{id}/events", s.handleUserEvents)
	mux.HandleFunc("GET /api/users/{id}/profile", s.handleUserProfile)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	return LoggingMiddleware(s.logger)(mux)
}

// chatRequest is the shared inbound payload of all three bindings.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Image          string `json:"image,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

func (r chatRequest) turnRequest() turn.Request {
	return turn.Request{
		Message:        r.Message,
		ConversationID: r.ConversationID,
		Image:          r.Image,
		UserID:         r.UserID,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
