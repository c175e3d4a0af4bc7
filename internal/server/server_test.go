package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/config"
	"github.com/raphaelgruber/nova/internal/llm"
	"github.com/raphaelgruber/nova/internal/lookup"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/raphaelgruber/nova/internal/profile"
	"github.com/raphaelgruber/nova/internal/server"
	"github.com/raphaelgruber/nova/internal/turn"
	"github.com/raphaelgruber/nova/internal/userlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStreamer stands in for the LLM and replays fixed deltas. When err
// is set, it fails after emitting errAfter deltas.
type scriptedStreamer struct {
	deltas   []string
	err      error
	errAfter int
}

func (f *scriptedStreamer) Stream(ctx context.Context, req llm.Request, onDelta func(ctx context.Context, delta string) error) (string, error) {
	var full string
	for i, d := range f.deltas {
		if f.err != nil && i >= f.errAfter {
			return "", f.err
		}
		full += d
		if err := onDelta(ctx, d); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return full, nil
}

type testEnv struct {
	ts    *httptest.Server
	store *memory.Store
	model *scriptedStreamer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := metrics.NewCollector()
	store := memory.NewStore()

	// The ollama constructor validates options without dialing.
	healthModel, err := llm.NewModel(context.Background(), config.Config{
		LLMProvider: config.ProviderOllama,
		LLMModel:    "llama3",
		OllamaHost:  "http://localhost:11434",
	}, collector)
	require.NoError(t, err)

	wttr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current_condition": [{"temp_C": "18", "humidity": "60", "windspeedKmph": "12", "weatherDesc": [{"value": "Clear"}]}]}`))
	}))
	t.Cleanup(wttr.Close)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<rss version="2.0"><channel><title>Feed</title><item><title>Headline one</title><link>https://example.com/1</link></item></channel></rss>`))
	}))
	t.Cleanup(feed.Close)

	news := lookup.NewNewsClient(collector)
	news.SetFeeds(map[string]string{"general": feed.URL, "technology": feed.URL})

	model := &scriptedStreamer{deltas: []string{"Hello ", "there."}}
	exec := command.NewExecutor(logger)
	weather := lookup.NewWeatherClient(wttr.URL, collector)
	users := userlog.New(t.TempDir())
	profiles := profile.NewService()

	runner := &turn.Runner{
		Store:     store,
		Model:     model,
		Exec:      exec,
		Weather:   weather,
		News:      news,
		Profiles:  profiles,
		Users:     users,
		Collector: collector,
		Logger:    logger,
	}

	srv := server.New(server.Deps{
		Runner:    runner,
		Store:     store,
		Exec:      exec,
		Weather:   weather,
		News:      news,
		Users:     users,
		Profiles:  profiles,
		Collector: collector,
		Model:     healthModel,
		Logger:    logger,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: store, model: model}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestChat(t *testing.T) {
	t.Run("returns the assembled response", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.deltas = []string{"Sure! ", "[CMD:time]", " Done."}

		resp := env.postJSON(t, "/api/chat", map[string]string{"message": "what time is it?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Response       string           `json:"response"`
			ConversationID string           `json:"conversationId"`
			Commands       []command.Result `json:"commands"`
			Timestamp      string           `json:"timestamp"`
		}
		decodeBody(t, resp, &body)

		assert.Equal(t, "Sure! Done.", body.Response)
		assert.NotEmpty(t, body.ConversationID)
		require.Len(t, body.Commands, 1)
		assert.Equal(t, "time", body.Commands[0].Type)
		assert.True(t, body.Commands[0].Success)
		assert.NotEmpty(t, body.Timestamp)
	})

	t.Run("rejects missing message", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/chat", map[string]string{})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, "Message is required", body["error"])
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		env := newTestEnv(t)

		resp, err := http.Post(env.ts.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("maps upstream failure to 500", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.err = errors.New("provider down")

		resp := env.postJSON(t, "/api/chat", map[string]string{"message": "hello"})
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, "Failed to generate response.", body["error"])
	})

	t.Run("continues a conversation", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/chat", map[string]string{"message": "first"})
		var first struct {
			ConversationID string `json:"conversationId"`
		}
		decodeBody(t, resp, &first)

		resp = env.postJSON(t, "/api/chat", map[string]string{
			"message":        "second",
			"conversationId": first.ConversationID,
		})
		var second struct {
			ConversationID string `json:"conversationId"`
		}
		decodeBody(t, resp, &second)

		assert.Equal(t, first.ConversationID, second.ConversationID)
		assert.Len(t, env.store.Messages(first.ConversationID), 4)
	})
}

func TestChatStream(t *testing.T) {
	readRecords := func(t *testing.T, body io.Reader) []map[string]any {
		t.Helper()
		var records []map[string]any
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec))
			records = append(records, rec)
		}
		return records
	}

	t.Run("streams chunks then a terminal record", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.deltas = []string{"Hel", "lo."}

		resp := env.postJSON(t, "/api/chat/stream", map[string]string{"message": "hi"})
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		records := readRecords(t, resp.Body)
		require.Len(t, records, 3)
		assert.Equal(t, "chunk", records[0]["type"])
		assert.Equal(t, "Hel", records[0]["content"])
		assert.Equal(t, "chunk", records[1]["type"])

		final := records[2]
		assert.Equal(t, "complete", final["type"])
		assert.Equal(t, "Hello.", final["content"])
		assert.NotEmpty(t, final["conversationId"])
		assert.NotNil(t, final["commands"])
		assert.NotEmpty(t, final["timestamp"])
	})

	t.Run("delivers upstream failure as an error record", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.err = errors.New("provider down")

		resp := env.postJSON(t, "/api/chat/stream", map[string]string{"message": "hi"})
		defer resp.Body.Close()

		records := readRecords(t, resp.Body)
		require.Len(t, records, 1)
		assert.Equal(t, "error", records[0]["type"])
		assert.Equal(t, "Failed to generate response.", records[0]["message"])
	})

	t.Run("failure after chunks keeps them and ends with one error record", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.deltas = []string{"part one ", "part two ", "never sent"}
		env.model.err = errors.New("connection reset")
		env.model.errAfter = 2

		resp := env.postJSON(t, "/api/chat/stream", map[string]string{"message": "hi"})
		defer resp.Body.Close()

		records := readRecords(t, resp.Body)
		require.Len(t, records, 3)
		assert.Equal(t, "chunk", records[0]["type"])
		assert.Equal(t, "part one ", records[0]["content"])
		assert.Equal(t, "chunk", records[1]["type"])
		assert.Equal(t, "part two ", records[1]["content"])
		assert.Equal(t, "error", records[2]["type"])
		assert.Equal(t, "Failed to generate response.", records[2]["message"])

		// The partial response was not persisted.
		summaries := env.store.ListConversations()
		require.Len(t, summaries, 1)
		assert.Equal(t, 1, summaries[0].MessageCount)
	})

	t.Run("rejects missing message before streaming", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/chat/stream", map[string]string{})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestWebSocket(t *testing.T) {
	type envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}

	dial := func(t *testing.T, env *testEnv) *websocket.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		return conn
	}

	send := func(t *testing.T, conn *websocket.Conn, event string, data any) {
		t.Helper()
		payload, err := json.Marshal(data)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(envelope{Event: event, Data: payload}))
	}

	t.Run("serves a full turn as events", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.deltas = []string{"Hi ", "there."}
		conn := dial(t, env)

		send(t, conn, "chat_message", map[string]string{"message": "hello"})

		var start envelope
		require.NoError(t, conn.ReadJSON(&start))
		require.Equal(t, "ai_response_start", start.Event)
		var startData struct {
			ConversationID string `json:"conversationId"`
		}
		require.NoError(t, json.Unmarshal(start.Data, &startData))
		assert.NotEmpty(t, startData.ConversationID)

		var chunks []string
		for {
			var msg envelope
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Event == "ai_response_complete" {
				var complete struct {
					Response       string           `json:"response"`
					ConversationID string           `json:"conversationId"`
					Commands       []command.Result `json:"commands"`
				}
				require.NoError(t, json.Unmarshal(msg.Data, &complete))
				assert.Equal(t, "Hi there.", complete.Response)
				assert.Equal(t, startData.ConversationID, complete.ConversationID)
				break
			}
			require.Equal(t, "ai_response_chunk", msg.Event)
			var chunk struct {
				Chunk string `json:"chunk"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &chunk))
			chunks = append(chunks, chunk.Chunk)
		}
		assert.Equal(t, []string{"Hi ", "there."}, chunks)
	})

	t.Run("failure after chunks delivers them then one error event", func(t *testing.T) {
		env := newTestEnv(t)
		env.model.deltas = []string{"part one ", "part two ", "never sent"}
		env.model.err = errors.New("connection reset")
		env.model.errAfter = 2
		conn := dial(t, env)

		send(t, conn, "chat_message", map[string]string{"message": "hello"})

		var events []string
		var chunks []string
		for {
			var msg envelope
			require.NoError(t, conn.ReadJSON(&msg))
			events = append(events, msg.Event)
			if msg.Event == "ai_response_chunk" {
				var chunk struct {
					Chunk string `json:"chunk"`
				}
				require.NoError(t, json.Unmarshal(msg.Data, &chunk))
				chunks = append(chunks, chunk.Chunk)
			}
			if msg.Event == "error" {
				break
			}
			require.NotEqual(t, "ai_response_complete", msg.Event)
		}

		assert.Equal(t, []string{"ai_response_start", "ai_response_chunk", "ai_response_chunk", "error"}, events)
		assert.Equal(t, []string{"part one ", "part two "}, chunks)
	})

	t.Run("rejects empty message", func(t *testing.T) {
		env := newTestEnv(t)
		conn := dial(t, env)

		send(t, conn, "chat_message", map[string]string{})

		var got envelope
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "error", got.Event)
		var data struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(got.Data, &data))
		assert.Equal(t, "Message is required", data.Message)
	})

	t.Run("rejects unknown events", func(t *testing.T) {
		env := newTestEnv(t)
		conn := dial(t, env)

		send(t, conn, "teleport", map[string]string{})

		var got envelope
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "error", got.Event)
	})

	t.Run("connection survives multiple turns", func(t *testing.T) {
		env := newTestEnv(t)
		conn := dial(t, env)

		for i := 0; i < 2; i++ {
			send(t, conn, "chat_message", map[string]string{"message": "hello"})
			for {
				var got envelope
				require.NoError(t, conn.ReadJSON(&got))
				if got.Event == "ai_response_complete" {
					break
				}
			}
		}
	})
}

func TestHistoryRoutes(t *testing.T) {
	t.Run("lists conversations after a turn", func(t *testing.T) {
		env := newTestEnv(t)
		env.postJSON(t, "/api/chat", map[string]string{"message": "hello"}).Body.Close()

		resp := env.get(t, "/api/history/conversations")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Conversations []memory.Summary `json:"conversations"`
		}
		decodeBody(t, resp, &body)
		require.Len(t, body.Conversations, 1)
		assert.Equal(t, 2, body.Conversations[0].MessageCount)
		assert.Equal(t, "hello", body.Conversations[0].Preview)
	})

	t.Run("empty store lists an empty array", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.get(t, "/api/history/conversations")
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"conversations":[]`)
	})

	t.Run("returns a transcript", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.store.CreateConversation()
		env.store.AddMessage(id, memory.RoleUser, "question")
		env.store.AddMessage(id, memory.RoleAssistant, "answer")

		resp := env.get(t, "/api/history/"+id)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			ConversationID string           `json:"conversationId"`
			Messages       []memory.Message `json:"messages"`
		}
		decodeBody(t, resp, &body)
		assert.Equal(t, id, body.ConversationID)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "question", body.Messages[0].Content)
	})

	t.Run("unknown conversation is 404", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.get(t, "/api/history/nope")
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("clears a conversation", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.store.CreateConversation()
		env.store.AddMessage(id, memory.RoleUser, "hello")

		req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/history/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Cleared bool `json:"cleared"`
		}
		decodeBody(t, resp, &body)
		assert.True(t, body.Cleared)
		assert.Empty(t, env.store.Messages(id))
	})
}

func TestCommandRoute(t *testing.T) {
	t.Run("runs a directive", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/command", map[string]string{"command": "time"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result command.Result
		decodeBody(t, resp, &result)
		assert.True(t, result.Success)
		assert.Contains(t, result.Message, "Current time:")
	})

	t.Run("rejects missing command", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/command", map[string]string{})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown directive is a structured failure", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/command", map[string]string{"command": "teleport"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result command.Result
		decodeBody(t, resp, &result)
		assert.False(t, result.Success)
		assert.Equal(t, "Unknown command: teleport", result.Message)
	})
}

func TestLookupRoutes(t *testing.T) {
	t.Run("weather", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.get(t, "/api/weather?city=Paris")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report lookup.WeatherReport
		decodeBody(t, resp, &report)
		assert.Equal(t, "Paris", report.City)
		assert.Equal(t, "18", report.Temperature)
	})

	t.Run("news", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.get(t, "/api/news?category=technology&count=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var digest lookup.NewsDigest
		decodeBody(t, resp, &digest)
		assert.Equal(t, "technology", digest.Category)
		require.Len(t, digest.Articles, 1)
		assert.Equal(t, "Headline one", digest.Articles[0].Title)
	})

	t.Run("news rejects a bad count", func(t *testing.T) {
		env := newTestEnv(t)

		for _, q := range []string{"count=abc", "count=0", "count=-1"} {
			resp := env.get(t, "/api/news?"+q)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})
}

func TestUserRoutes(t *testing.T) {
	t.Run("register then read events and profile", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/users/register", map[string]string{
			"name":  "Ada",
			"email": "ada@example.com",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var p userlog.UserProfile
		decodeBody(t, resp, &p)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "Ada", p.Name)

		resp = env.get(t, "/api/users/"+p.ID+"/events")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var events struct {
			UserID string          `json:"userId"`
			Events []userlog.Event `json:"events"`
		}
		decodeBody(t, resp, &events)
		assert.Equal(t, p.ID, events.UserID)
		assert.Empty(t, events.Events)
	})

	t.Run("register requires name and email", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/users/register", map[string]string{"name": "Ada"})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown profile is 404", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.get(t, "/api/users/nobody/profile")
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("chat turns build the profile", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 2; i++ {
			env.postJSON(t, "/api/chat", map[string]string{
				"message": "what's the weather?",
				"userId":  "u1",
			}).Body.Close()
		}

		resp := env.get(t, "/api/users/u1/profile")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var p profile.Profile
		decodeBody(t, resp, &p)
		assert.Equal(t, 2, p.Interactions)
		assert.Equal(t, 2, p.TopicCounts["weather"])
	})
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ollama", health["provider"])
	assert.Equal(t, "llama3", health["model"])
	assert.NotEmpty(t, health["timestamp"])

	env.postJSON(t, "/api/chat", map[string]string{"message": "hello"}).Body.Close()

	resp = env.get(t, "/api/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap metrics.Snapshot
	decodeBody(t, resp, &snap)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
	require.NotNil(t, snap.Turn)
	assert.Equal(t, int64(1), snap.Turn.Count)
}
