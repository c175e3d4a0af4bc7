// Package memory provides the in-process conversation store. Conversations
// live for the lifetime of the process; durability, if wanted, is the
// archive's concern.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxContextMessages bounds how much history is sent to the model per turn.
const MaxContextMessages = 20

// previewLen is how many runes of the first message a summary carries.
const previewLen = 80

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one immutable entry in a conversation transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextMessage is the trimmed view handed to the model proxy.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Summary describes one non-empty conversation for listing.
type Summary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"messageCount"`
	LastMessage  time.Time `json:"lastMessage"`
	Preview      string    `json:"preview"`
}

type conversation struct {
	messages  []Message
	createdAt time.Time

	// turnMu serializes whole turns on this conversation so two overlapping
	// requests for the same id cannot interleave their history appends.
	turnMu sync.Mutex
}

// Store holds all conversations. All methods are safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// CreateConversation registers a new empty conversation and returns its id.
func (s *Store) CreateConversation() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.conversations[id] = &conversation{createdAt: s.now()}
	s.mu.Unlock()
	return id
}

// AddMessage appends a message, creating the conversation if the id is
// unknown to this store instance.
func (s *Store) AddMessage(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversations[id]
	if c == nil {
		c = &conversation{createdAt: s.now()}
		s.conversations[id] = c
	}
	c.messages = append(c.messages, Message{Role: role, Content: content, Timestamp: s.now()})
}

// Messages returns a copy of the full transcript, oldest first.
func (s *Store) Messages(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conversations[id]
	if c == nil {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Context returns the most recent MaxContextMessages entries, oldest first,
// reduced to role and content.
func (s *Store) Context(id string) []ContextMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conversations[id]
	if c == nil {
		return nil
	}
	msgs := c.messages
	if len(msgs) > MaxContextMessages {
		msgs = msgs[len(msgs)-MaxContextMessages:]
	}
	out := make([]ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ContextMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// ListConversations returns summaries of every non-empty conversation.
func (s *Store) ListConversations() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Summary
	for id, c := range s.conversations {
		if len(c.messages) == 0 {
			continue
		}
		out = append(out, Summary{
			ID:           id,
			MessageCount: len(c.messages),
			LastMessage:  c.messages[len(c.messages)-1].Timestamp,
			Preview:      preview(c.messages[0].Content),
		})
	}
	return out
}

// Clear empties a conversation's transcript but keeps the id valid.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.conversations[id]; c != nil {
		c.messages = nil
	}
}

// LockTurn serializes turns per conversation id and returns the unlock
// function. Turns on different conversations proceed independently.
func (s *Store) LockTurn(id string) func() {
	s.mu.Lock()
	c := s.conversations[id]
	if c == nil {
		c = &conversation{createdAt: s.now()}
		s.conversations[id] = c
	}
	s.mu.Unlock()

	c.turnMu.Lock()
	return c.turnMu.Unlock
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) > previewLen {
		return string(runes[:previewLen])
	}
	return content
}
