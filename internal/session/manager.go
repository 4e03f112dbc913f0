package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/store"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one conversation entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the bounded conversation state for one (channel, user) pair.
type Session struct {
	History       []Turn            `json:"history"`
	StartedAt     time.Time         `json:"started_at"`
	LastMessageAt time.Time         `json:"last_message_at"`
	MessageCount  int               `json:"message_count"`
	Flags         map[string]string `json:"flags,omitempty"`
}

// Append adds a turn and truncates the history to the window, oldest first.
func (s *Session) Append(role, content string, window int, now time.Time) {
	s.History = append(s.History, Turn{Role: role, Content: content, Timestamp: now})
	if window > 0 && len(s.History) > window {
		s.History = s.History[len(s.History)-window:]
	}
	s.LastMessageAt = now
	if role == RoleUser {
		s.MessageCount++
	}
}

// Manager persists sessions with an idle TTL. Get followed by Put is a
// non-atomic read-modify-write; the single sequential worker makes per-user
// races rare and a lost update is an accepted tradeoff.
type Manager struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewManager(log *slog.Logger, st store.Store, ttl time.Duration) *Manager {
	return &Manager{
		store:  st,
		ttl:    ttl,
		logger: log.With(slog.String("service", "session")),
	}
}

// Get loads the session for (channel, userID). ok is false after idle expiry
// or for a first-time user.
func (m *Manager) Get(ctx context.Context, ch channel.Type, userID string) (Session, bool, error) {
	data, ok, err := m.store.Get(ctx, store.SessionKey(ch.String(), userID))
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Session{}, false, nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return s, true, nil
}

// GetOrCreate returns the stored session or a fresh one stamped with now.
func (m *Manager) GetOrCreate(ctx context.Context, ch channel.Type, userID string, now time.Time) (Session, error) {
	s, ok, err := m.Get(ctx, ch, userID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		s = Session{StartedAt: now}
	}
	return s, nil
}

// Put stores the session and refreshes the idle TTL.
func (m *Manager) Put(ctx context.Context, ch channel.Type, userID string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, store.SessionKey(ch.String(), userID), data, m.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
