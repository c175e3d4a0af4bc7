// Package turn orchestrates one assistant turn end-to-end: model streaming,
// directive resolution and history persistence. Both transport bindings
// (WebSocket events and chunked HTTP) drive the same Runner so they cannot
// drift in behavior.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/llm"
	"github.com/raphaelgruber/nova/internal/lookup"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/raphaelgruber/nova/internal/profile"
	"github.com/raphaelgruber/nova/internal/userlog"
)

var (
	// ErrEmptyMessage rejects a turn before any side effect happens.
	ErrEmptyMessage = errors.New("message is required")

	// ErrUpstream reports a model stream failure. The sink has already been
	// told; non-streaming callers map this to a turn-level failure.
	ErrUpstream = errors.New("failed to generate response")
)

// Default lookup arguments when the model emits a bare directive.
const (
	defaultWeatherCity = "New York"
	defaultNewsTopic   = "general"
)

// State of a turn. Transitions are strictly ordered; Streaming loops on
// itself for every delta and Failed is terminal.
type State int

const (
	StateAwaitingFirstToken State = iota
	StateStreaming
	StateDrained
	StateCommandsResolved
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstToken:
		return "awaiting_first_token"
	case StateStreaming:
		return "streaming"
	case StateDrained:
		return "drained"
	case StateCommandsResolved:
		return "commands_resolved"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one inbound user message.
type Request struct {
	Message        string
	ConversationID string
	Image          string // optional base64 frame
	UserID         string
}

// Outcome is the final product of a completed turn.
type Outcome struct {
	ConversationID string
	Response       string
	Commands       []command.Result
}

// Sink receives turn output in order: Start, zero or more Chunk calls, then
// exactly one Complete or Error. A sink error stops further delivery but
// never aborts the turn itself.
type Sink interface {
	Start(conversationID string) error
	Chunk(conversationID, delta string) error
	Complete(conversationID string, o Outcome) error
	Error(message string) error
}

// Streamer is the model-proxy capability.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request, onDelta func(ctx context.Context, delta string) error) (string, error)
}

// Executor runs a single non-lookup directive.
type Executor interface {
	Execute(ctx context.Context, d command.Directive) command.Result
}

// WeatherLookup fetches weather side-data.
type WeatherLookup interface {
	Get(ctx context.Context, city string) (*lookup.WeatherReport, error)
}

// NewsLookup fetches news side-data.
type NewsLookup interface {
	Get(ctx context.Context, category string, count int) (*lookup.NewsDigest, error)
}

// Record is the durable view of a completed turn handed to the archive.
type Record struct {
	ConversationID   string
	UserID           string
	UserMessage      string
	AssistantMessage string
	Commands         []command.Result
	At               time.Time
}

// Recorder persists completed turns out-of-process. Failures are logged,
// never surfaced.
type Recorder interface {
	RecordTurn(ctx context.Context, rec Record) error
}

// Runner executes turns. Store, Model and Exec are required; every other
// collaborator may be nil.
type Runner struct {
	Store     *memory.Store
	Model     Streamer
	Exec      Executor
	Weather   WeatherLookup
	News      NewsLookup
	NewsCount int
	Profiles  *profile.Service
	Users     *userlog.Log
	Archive   Recorder
	Collector *metrics.Collector
	Logger    *slog.Logger
}

// Run executes one turn without incremental delivery and returns the outcome.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	return r.run(ctx, req, &guardedSink{sink: discardSink{}})
}

// RunWithSink executes one turn, delivering output to sink. ErrUpstream is
// returned after the sink's Error call for callers that track failures.
func (r *Runner) RunWithSink(ctx context.Context, req Request, sink Sink) (Outcome, error) {
	return r.run(ctx, req, &guardedSink{sink: sink})
}

func (r *Runner) run(ctx context.Context, req Request, sink *guardedSink) (Outcome, error) {
	if req.Message == "" {
		return Outcome{}, ErrEmptyMessage
	}
	start := time.Now()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = r.Store.CreateConversation()
	}

	// One writer per conversation; overlapping turns on the same id queue up.
	unlock := r.Store.LockTurn(conversationID)
	defer unlock()

	r.Store.AddMessage(conversationID, memory.RoleUser, req.Message)
	r.logUserEvent(req.UserID, userlog.Event{
		Type:           "user_message",
		ConversationID: conversationID,
		Content:        req.Message,
	})

	history := r.Store.Context(conversationID)
	sink.Start(conversationID)

	var images []string
	if req.Image != "" {
		images = []string{req.Image}
	}

	state := StateAwaitingFirstToken
	full, err := r.Model.Stream(ctx, llm.Request{
		Messages:        history,
		Images:          images,
		Personalization: r.personalization(req.UserID),
	}, func(_ context.Context, delta string) error {
		state = StateStreaming
		sink.Chunk(conversationID, delta)
		return nil
	})
	if err != nil {
		// Partial text is discarded; only the user message stays in history.
		state = StateFailed
		r.logger().Error("model stream failed",
			"conversation", conversationID, "state", state, "error", err)
		sink.Error("Failed to generate response.")
		r.recordTurnTiming(start, true)
		return Outcome{}, ErrUpstream
	}
	state = StateDrained

	if r.Profiles != nil {
		r.Profiles.RecordInteraction(req.UserID, req.Message, full)
	}

	results := r.resolveDirectives(ctx, req.UserID, command.Parse(full))
	state = StateCommandsResolved

	clean := command.Strip(full)
	r.Store.AddMessage(conversationID, memory.RoleAssistant, clean)
	r.logUserEvent(req.UserID, userlog.Event{
		Type:           "assistant_response",
		ConversationID: conversationID,
		Content:        clean,
	})

	outcome := Outcome{ConversationID: conversationID, Response: clean, Commands: results}
	sink.Complete(conversationID, outcome)
	state = StateComplete

	r.logger().Debug("turn complete",
		"conversation", conversationID, "state", state,
		"commands", len(results), "duration_ms", time.Since(start).Milliseconds())

	r.archiveTurn(Record{
		ConversationID:   conversationID,
		UserID:           req.UserID,
		UserMessage:      req.Message,
		AssistantMessage: clean,
		Commands:         results,
		At:               time.Now(),
	})
	r.recordTurnTiming(start, false)
	return outcome, nil
}

// resolveDirectives executes every directive in textual order. Weather and
// news resolve through their lookups so the result carries a readable
// sentence; failed lookups are dropped from the results entirely (errors are
// absorbed, not surfaced, for informational side-lookups). Everything else
// goes through the executor, which never raises.
func (r *Runner) resolveDirectives(ctx context.Context, userID string, directives []command.Directive) []command.Result {
	results := make([]command.Result, 0, len(directives))
	for _, d := range directives {
		switch d.Type {
		case command.TypeWeather:
			city := d.Arg
			if city == "" {
				city = defaultWeatherCity
			}
			report, err := r.weatherFor(ctx, city)
			if err != nil {
				r.logger().Warn("weather lookup failed", "city", city, "error", err)
				continue
			}
			res := command.Result{Type: d.Type, Success: true, Message: report.Summary(), Data: report}
			results = append(results, res)
			r.logCommandEvent(userID, d, res)

		case command.TypeNews:
			topic := d.Arg
			if topic == "" {
				topic = defaultNewsTopic
			}
			digest, err := r.newsFor(ctx, topic)
			if err != nil {
				r.logger().Warn("news lookup failed", "category", topic, "error", err)
				continue
			}
			if len(digest.Articles) == 0 {
				continue
			}
			res := command.Result{Type: d.Type, Success: true, Message: digest.Summary(), Data: digest}
			results = append(results, res)
			r.logCommandEvent(userID, d, res)

		default:
			execStart := time.Now()
			res := r.Exec.Execute(ctx, d)
			if r.Collector != nil {
				r.Collector.RecordTiming(metrics.OpCommandExec, time.Since(execStart))
			}
			results = append(results, res)
			r.logCommandEvent(userID, d, res)
		}
	}
	return results
}

func (r *Runner) weatherFor(ctx context.Context, city string) (*lookup.WeatherReport, error) {
	if r.Weather == nil {
		return nil, errors.New("weather lookup not configured")
	}
	return r.Weather.Get(ctx, city)
}

func (r *Runner) newsFor(ctx context.Context, topic string) (*lookup.NewsDigest, error) {
	if r.News == nil {
		return nil, errors.New("news lookup not configured")
	}
	count := r.NewsCount
	if count <= 0 {
		count = 5
	}
	return r.News.Get(ctx, topic, count)
}

func (r *Runner) personalization(userID string) string {
	if r.Profiles == nil || userID == "" {
		return ""
	}
	return r.Profiles.PersonalizationPrompt(userID)
}

func (r *Runner) logUserEvent(userID string, event userlog.Event) {
	if r.Users == nil || userID == "" {
		return
	}
	if err := r.Users.LogEvent(userID, event); err != nil {
		r.logger().Warn("user event log failed", "user", userID, "error", err)
	}
}

func (r *Runner) logCommandEvent(userID string, d command.Directive, res command.Result) {
	r.logUserEvent(userID, userlog.Event{
		Type:    "command",
		Command: d.Type,
		Arg:     d.Arg,
		Result:  res,
	})
}

// archiveTurn hands the completed turn to the archive without blocking the
// response path.
func (r *Runner) archiveTurn(rec Record) {
	if r.Archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Archive.RecordTurn(ctx, rec); err != nil {
			r.logger().Warn("turn archive failed", "conversation", rec.ConversationID, "error", err)
		}
	}()
}

func (r *Runner) recordTurnTiming(start time.Time, failed bool) {
	if r.Collector == nil {
		return
	}
	if failed {
		r.Collector.RecordFailure(metrics.OpTurn, time.Since(start))
		return
	}
	r.Collector.RecordTiming(metrics.OpTurn, time.Since(start))
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// guardedSink stops delivery after the first sink error (client gone) while
// letting the turn run to completion, so history appends stay all-or-nothing.
type guardedSink struct {
	sink Sink
	dead bool
}

func (g *guardedSink) Start(id string) {
	if g.dead {
		return
	}
	if err := g.sink.Start(id); err != nil {
		g.dead = true
	}
}

func (g *guardedSink) Chunk(id, delta string) {
	if g.dead {
		return
	}
	if err := g.sink.Chunk(id, delta); err != nil {
		g.dead = true
	}
}

func (g *guardedSink) Complete(id string, o Outcome) {
	if g.dead {
		return
	}
	if err := g.sink.Complete(id, o); err != nil {
		g.dead = true
	}
}

func (g *guardedSink) Error(message string) {
	if g.dead {
		return
	}
	if err := g.sink.Error(message); err != nil {
		g.dead = true
	}
}

// discardSink supports running a turn for its side effects only.
type discardSink struct{}

func (discardSink) Start(string) error             { return nil }
func (discardSink) Chunk(string, string) error     { return nil }
func (discardSink) Complete(string, Outcome) error { return nil }
func (discardSink) Error(string) error             { return nil }
