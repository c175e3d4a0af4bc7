// Package profile keeps lightweight per-user personalization state. It is
// heuristic policy, not protocol: nothing here influences the directive
// pipeline beyond the prompt fragment handed to the model.
package profile

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// topicKeywords are the interest buckets tallied from user questions.
var topicKeywords = map[string][]string{
	"weather":    {"weather", "temperature", "forecast", "rain"},
	"news":       {"news", "headline", "headlines"},
	"technology": {"code", "program", "computer", "software", "tech"},
	"schedule":   {"time", "date", "remind", "calendar"},
}

// Profile holds what the service has observed about one user.
type Profile struct {
	UserID       string         `json:"userId"`
	Interactions int            `json:"interactions"`
	TopicCounts  map[string]int `json:"topicCounts"`
	PrefersBrief bool           `json:"prefersBrief"`
	LastSeen     time.Time      `json:"lastSeen"`
}

// Service tracks profiles in memory for the process lifetime.
type Service struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

// NewService creates an empty profile service.
func NewService() *Service {
	return &Service{
		profiles: make(map[string]*Profile),
		now:      time.Now,
	}
}

// RecordInteraction updates counters and preference heuristics from one turn.
func (s *Service) RecordInteraction(userID, question, response string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profiles[userID]
	if p == nil {
		p = &Profile{UserID: userID, TopicCounts: make(map[string]int)}
		s.profiles[userID] = p
	}
	p.Interactions++
	p.LastSeen = s.now()

	lower := strings.ToLower(question)
	for topic, words := range topicKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				p.TopicCounts[topic]++
				break
			}
		}
	}

	// Users who consistently ask short questions get shorter answers.
	p.PrefersBrief = len(question) < 60 && p.Interactions > 3
}

// Get returns a copy of the user's profile, or nil if unseen.
func (s *Service) Get(userID string) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profiles[userID]
	if p == nil {
		return nil
	}
	cp := *p
	cp.TopicCounts = make(map[string]int, len(p.TopicCounts))
	for k, v := range p.TopicCounts {
		cp.TopicCounts[k] = v
	}
	return &cp
}

// PersonalizationPrompt builds the prompt fragment appended to the system
// prompt. Returns "" for unknown or barely-seen users.
func (s *Service) PersonalizationPrompt(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.profiles[userID]
	if p == nil || p.Interactions < 2 {
		return ""
	}

	var lines []string
	if topic := dominantTopic(p.TopicCounts); topic != "" {
		lines = append(lines, fmt.Sprintf("The user frequently asks about %s.", topic))
	}
	if p.PrefersBrief {
		lines = append(lines, "Keep answers brief; the user prefers short responses.")
	}
	return strings.Join(lines, "\n")
}

func dominantTopic(counts map[string]int) string {
	best, bestCount := "", 2 // require at least 3 hits before calling it a habit
	for topic, n := range counts {
		if n > bestCount {
			best, bestCount = topic, n
		}
	}
	return best
}
