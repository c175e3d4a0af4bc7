// Package archive persists completed chat turns to SurrealDB with
// auto-reconnect support. The in-process conversation store stays the source
// of truth for live turns; the archive is the durable trail behind it.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/raphaelgruber/nova/internal/turn"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Archive wraps the SurrealDB connection used for the turn trail.
type Archive struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger
}

// ArchivedTurn is one persisted turn as read back from the archive.
type ArchivedTurn struct {
	Conversation     string    `json:"conversation"`
	UserID           string    `json:"user_id,omitempty"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	Commands         []any     `json:"commands,omitempty"`
	At               time.Time `json:"at"`
}

// New connects to SurrealDB with an auto-reconnecting WebSocket.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Archive, error) {
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	// surrealcbor handles SurrealDB's custom CBOR tags.
	codec := surrealcbor.New()

	// gorillaws wants the base URL without /rpc; it appends the suffix itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, surrealdb.Auth{
		Username: cfg.Username,
		Password: cfg.Password,
	}); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	sdkLogger.Info("SurrealDB connection established")
	return &Archive{conn: conn, db: db, cfg: cfg, logger: sdkLogger}, nil
}

// Close closes the SurrealDB connection.
func (a *Archive) Close(ctx context.Context) error {
	a.logger.Info("closing SurrealDB connection")
	return a.conn.Close(ctx)
}

// InitSchema initializes the turn table.
func (a *Archive) InitSchema(ctx context.Context) error {
	a.logger.Info("initializing archive schema")
	if _, err := surrealdb.Query[any](ctx, a.db, schemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// RecordTurn persists one completed turn. Implements turn.Recorder.
func (a *Archive) RecordTurn(ctx context.Context, rec turn.Record) error {
	commands := make([]any, 0, len(rec.Commands))
	for _, c := range rec.Commands {
		commands = append(commands, map[string]any{
			"type":    c.Type,
			"success": c.Success,
			"message": c.Message,
		})
	}

	_, err := surrealdb.Query[any](ctx, a.db, `
		CREATE turn CONTENT {
			conversation: $conversation,
			user_id: $user_id,
			user_message: $user_message,
			assistant_message: $assistant_message,
			commands: $commands,
			at: <datetime>$at
		}
	`, map[string]any{
		"conversation":      rec.ConversationID,
		"user_id":           rec.UserID,
		"user_message":      rec.UserMessage,
		"assistant_message": rec.AssistantMessage,
		"commands":          commands,
		"at":                rec.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Turns reads back the archived turns of one conversation, oldest first.
func (a *Archive) Turns(ctx context.Context, conversationID string) ([]ArchivedTurn, error) {
	results, err := surrealdb.Query[[]ArchivedTurn](ctx, a.db, `
		SELECT conversation, user_id, user_message, assistant_message, commands, at
		FROM turn
		WHERE conversation = $conversation
		ORDER BY at ASC
	`, map[string]any{"conversation": conversationID})
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return []ArchivedTurn{}, nil
}

// WipeData deletes all archived turns while preserving schema. Testing only.
func (a *Archive) WipeData(ctx context.Context) error {
	a.logger.Warn("wiping archived turns")
	if _, err := surrealdb.Query[any](ctx, a.db, "DELETE turn", nil); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

// schemaSQL defines the turn table.
const schemaSQL = `
    DEFINE TABLE IF NOT EXISTS turn SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS conversation ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS user_id ON turn TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS user_message ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS assistant_message ON turn TYPE string;
    DEFINE FIELD IF NOT EXISTS commands ON turn TYPE array<object> DEFAULT [];
    REMOVE FIELD IF EXISTS commands.* ON turn;
    DEFINE FIELD commands.* ON turn TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS at ON turn TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS turn_conversation ON turn FIELDS conversation;
    DEFINE INDEX IF NOT EXISTS turn_at ON turn FIELDS at;
`
