// Package client provides a Go client for the Nova assistant server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to the Nova server over HTTP and WebSocket.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses NOVA_SERVER_URL env var or defaults to localhost:3001.
// Timeout can be configured via NOVA_CLIENT_TIMEOUT env var (default 5m for long turns).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("NOVA_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := 5 * time.Minute
	if t := os.Getenv("NOVA_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// =============================================================================
// TYPES (matching the server API)
// =============================================================================

// ChatRequest is one user message.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Image          string `json:"image,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// CommandResult is one executed directive reported alongside a response.
type CommandResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ChatResponse is the completed turn.
type ChatResponse struct {
	Response       string          `json:"response"`
	ConversationID string          `json:"conversationId"`
	Commands       []CommandResult `json:"commands"`
	Timestamp      string          `json:"timestamp"`
}

// ConversationSummary describes one stored conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"messageCount"`
	LastMessage  time.Time `json:"lastMessage"`
	Preview      string    `json:"preview"`
}

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// serverError is the error payload of non-2xx responses.
type serverError struct {
	Error string `json:"error"`
}

// =============================================================================
// REST OPERATIONS
// =============================================================================

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se serverError
		if json.Unmarshal(data, &se) == nil && se.Error != "" {
			return fmt.Errorf("server error: %s", se.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Chat sends one message and waits for the full response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversations lists stored conversations.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var result struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/history/conversations", nil, &result); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

// Conversation fetches one transcript.
func (c *Client) Conversation(ctx context.Context, id string) ([]Message, error) {
	var result struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/history/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// ClearConversation empties one transcript.
func (c *Client) ClearConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/history/"+url.PathEscape(id), nil, nil)
}

// RunCommand executes a single directive outside any chat turn.
func (c *Client) RunCommand(ctx context.Context, commandType, arg string) (*CommandResult, error) {
	var result CommandResult
	err := c.doJSON(ctx, http.MethodPost, "/api/command", map[string]string{
		"command": commandType,
		"arg":     arg,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// STREAMING OPERATIONS
// =============================================================================

// WebSocket protocol event names.
const (
	eventChatMessage      = "chat_message"
	eventResponseStart    = "ai_response_start"
	eventResponseChunk    = "ai_response_chunk"
	eventResponseComplete = "ai_response_complete"
	eventError            = "error"
)

// wsEnvelope frames every message on the socket.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatStream sends one message over WebSocket and invokes onChunk for each
// streamed delta. The completed turn is returned after the terminal event.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onChunk func(delta string) error) (*ChatResponse, error) {
	wsURL := c.baseURL + "/ws"
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if err := conn.WriteJSON(wsEnvelope{Event: eventChatMessage, Data: payload}); err != nil {
		return nil, fmt.Errorf("send chat_message: %w", err)
	}

	// Close the socket when the context is cancelled so reads unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		switch env.Event {
		case eventResponseStart:
			continue

		case eventResponseChunk:
			var chunk struct {
				Chunk string `json:"chunk"`
			}
			if err := json.Unmarshal(env.Data, &chunk); err != nil {
				return nil, fmt.Errorf("unmarshal chunk: %w", err)
			}
			if onChunk != nil && chunk.Chunk != "" {
				if err := onChunk(chunk.Chunk); err != nil {
					return nil, err
				}
			}

		case eventResponseComplete:
			var complete ChatResponse
			if err := json.Unmarshal(env.Data, &complete); err != nil {
				return nil, fmt.Errorf("unmarshal complete: %w", err)
			}
			return &complete, nil

		case eventError:
			var serr struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(env.Data, &serr); err != nil {
				return nil, fmt.Errorf("server error: %s", string(env.Data))
			}
			return nil, fmt.Errorf("server error: %s", serr.Message)

		default:
			continue
		}
	}
}
