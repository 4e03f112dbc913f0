package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/stats"
	"github.com/replygate/replygate/internal/store"
)

// ErrNotFound is returned for approve/reject on an id that is not pending.
var ErrNotFound = errors.New("pending approval not found")

// Settings controls the gate per region. It is read once per processed message
// so one message's behavior stays deterministic even when the flag flips
// mid-flight.
type Settings struct {
	ManualApprovalEnabled bool `json:"manual_approval_enabled"`
}

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusAutoSent = "auto_sent"
)

// PendingApproval is a generated-but-unsent reply awaiting a human decision.
type PendingApproval struct {
	ID               string                 `json:"id"`
	Region           string                 `json:"region"`
	Channel          channel.Type           `json:"channel"`
	UserID           string                 `json:"user_id"`
	ContactName      string                 `json:"contact_name,omitempty"`
	UserMessage      string                 `json:"user_message"`
	ProposedResponse string                 `json:"proposed_response"`
	OriginalMessage  channel.InboundMessage `json:"original_message"`
	CreatedAt        time.Time              `json:"created_at"`
	Status           string                 `json:"status"`
}

// HistoryEntry records a resolved (or auto-sent) reply. Append-only, capped.
type HistoryEntry struct {
	ID            string       `json:"id"`
	Region        string       `json:"region"`
	Channel       channel.Type `json:"channel"`
	UserID        string       `json:"user_id"`
	ContactName   string       `json:"contact_name,omitempty"`
	UserMessage   string       `json:"user_message"`
	FinalResponse string       `json:"final_response"`
	Status        string       `json:"status"`
	WasEdited     bool         `json:"was_edited"`
	ResolvedAt    time.Time    `json:"resolved_at"`
	DeliveryID    string       `json:"delivery_id,omitempty"`
	DeliveryError string       `json:"delivery_error,omitempty"`
}

// Service is the gatekeeper between generated replies and delivery. Pending
// entries live in a hash keyed by id, so approve/reject remove exactly the
// matching entry regardless of concurrent insertions.
type Service struct {
	store      store.Store
	registry   *channel.Registry
	sink       *stats.Sink
	historyCap int64
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(log *slog.Logger, st store.Store, registry *channel.Registry, sink *stats.Sink, historyCap int) *Service {
	return &Service{
		store:      st,
		registry:   registry,
		sink:       sink,
		historyCap: int64(historyCap),
		logger:     log.With(slog.String("service", "approval")),
		now:        time.Now,
	}
}

// Settings reads the region's gate flag; absent means disabled.
func (s *Service) Settings(ctx context.Context, region string) (Settings, error) {
	data, ok, err := s.store.Get(ctx, store.SettingsKey(region))
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return Settings{}, nil
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s *Service) SetSettings(ctx context.Context, region string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, store.SettingsKey(region), data, 0); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("settings updated",
		slog.String("region", region),
		slog.Bool("manual_approval", settings.ManualApprovalEnabled))
	return nil
}

// Gate routes a generated reply per the settings snapshot: deliver immediately
// (auto_sent) or park it for human review.
func (s *Service) Gate(ctx context.Context, settings Settings, region string, msg channel.InboundMessage, proposed string) (string, error) {
	if settings.ManualApprovalEnabled {
		pending, err := s.createPending(ctx, region, msg, proposed)
		if err != nil {
			return "", err
		}
		s.logger.Info("reply queued for approval",
			slog.String("region", region),
			slog.String("pending_id", pending.ID))
		return stats.OutcomePending, nil
	}

	entry := s.historyBase(region, msg, proposed)
	entry.Status = StatusAutoSent
	s.deliver(ctx, region, &entry, proposed)
	if err := s.appendHistory(ctx, region, entry); err != nil {
		return "", err
	}
	return stats.OutcomeAutoSent, nil
}

func (s *Service) createPending(ctx context.Context, region string, msg channel.InboundMessage, proposed string) (PendingApproval, error) {
	pending := PendingApproval{
		ID:               uuid.NewString(),
		Region:           region,
		Channel:          msg.Channel,
		UserID:           msg.SenderID,
		ContactName:      msg.SenderName,
		UserMessage:      msg.Text,
		ProposedResponse: proposed,
		OriginalMessage:  msg,
		CreatedAt:        s.now(),
		Status:           StatusPending,
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return PendingApproval{}, err
	}
	if err := s.store.HSet(ctx, store.PendingKey(region), pending.ID, data); err != nil {
		return PendingApproval{}, fmt.Errorf("store pending: %w", err)
	}
	return pending, nil
}

// Pending lists the region's unresolved approvals, oldest first.
func (s *Service) Pending(ctx context.Context, region string) ([]PendingApproval, error) {
	fields, err := s.store.HGetAll(ctx, store.PendingKey(region))
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	out := make([]PendingApproval, 0, len(fields))
	for _, data := range fields {
		var pending PendingApproval
		if err := json.Unmarshal(data, &pending); err != nil {
			s.logger.Warn("corrupt pending entry skipped", slog.Any("error", err))
			continue
		}
		out = append(out, pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// take removes and returns the pending entry with the given id. Removal is by
// id, never by list position.
func (s *Service) take(ctx context.Context, region, id string) (PendingApproval, error) {
	key := store.PendingKey(region)
	data, ok, err := s.store.HGet(ctx, key, id)
	if err != nil {
		return PendingApproval{}, fmt.Errorf("load pending %s: %w", id, err)
	}
	if !ok {
		return PendingApproval{}, ErrNotFound
	}
	removed, err := s.store.HDel(ctx, key, id)
	if err != nil {
		return PendingApproval{}, fmt.Errorf("remove pending %s: %w", id, err)
	}
	if !removed {
		// A concurrent decision won the race; this one resolves nothing.
		return PendingApproval{}, ErrNotFound
	}
	var pending PendingApproval
	if err := json.Unmarshal(data, &pending); err != nil {
		return PendingApproval{}, fmt.Errorf("decode pending %s: %w", id, err)
	}
	return pending, nil
}

// Approve resolves the pending entry, delivering editedText when present and
// the proposed response otherwise. A delivery failure is recorded on the
// history entry but the resolution stands.
func (s *Service) Approve(ctx context.Context, region, id, editedText string) (HistoryEntry, error) {
	pending, err := s.take(ctx, region, id)
	if err != nil {
		return HistoryEntry{}, err
	}

	final := pending.ProposedResponse
	edited := editedText != ""
	if edited {
		final = editedText
	}

	entry := s.historyFromPending(pending, final)
	entry.Status = StatusApproved
	entry.WasEdited = edited
	s.deliver(ctx, region, &entry, final)

	if err := s.appendHistory(ctx, region, entry); err != nil {
		return HistoryEntry{}, err
	}
	s.sink.RecordMessageStat(ctx, stats.MessageStat{
		Region:  region,
		Channel: pending.Channel,
		Outcome: stats.OutcomeApproved,
	})
	s.sink.RecordRecentLog(ctx, region, stats.LogEntry{
		Stage:   "approval",
		Channel: pending.Channel,
		UserID:  pending.UserID,
		Detail:  "approved " + id,
	})
	return entry, nil
}

// Reject resolves the pending entry without delivering anything.
func (s *Service) Reject(ctx context.Context, region, id string) (HistoryEntry, error) {
	pending, err := s.take(ctx, region, id)
	if err != nil {
		return HistoryEntry{}, err
	}

	entry := s.historyFromPending(pending, pending.ProposedResponse)
	entry.Status = StatusRejected
	if err := s.appendHistory(ctx, region, entry); err != nil {
		return HistoryEntry{}, err
	}
	s.sink.RecordMessageStat(ctx, stats.MessageStat{
		Region:  region,
		Channel: pending.Channel,
		Outcome: stats.OutcomeRejected,
	})
	s.sink.RecordRecentLog(ctx, region, stats.LogEntry{
		Stage:   "approval",
		Channel: pending.Channel,
		UserID:  pending.UserID,
		Detail:  "rejected " + id,
	})
	return entry, nil
}

// History returns the region's resolved entries, newest first.
func (s *Service) History(ctx context.Context, region string) ([]HistoryEntry, error) {
	raw, err := s.store.LRange(ctx, store.HistoryKey(region), 0, s.historyCap-1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, data := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) deliver(ctx context.Context, region string, entry *HistoryEntry, text string) {
	adapter, ok := s.registry.Get(region, entry.Channel)
	if !ok {
		entry.DeliveryError = fmt.Sprintf("no adapter for channel %s", entry.Channel)
		s.logger.Error("delivery skipped", slog.String("region", region), slog.String("channel", entry.Channel.String()))
		return
	}
	deliveryID, err := adapter.Send(ctx, entry.UserID, text)
	if err != nil {
		// Not retried here; the channel platform owns retry semantics.
		entry.DeliveryError = err.Error()
		s.logger.Error("delivery failed",
			slog.String("region", region),
			slog.String("channel", entry.Channel.String()),
			slog.Any("error", err))
		return
	}
	entry.DeliveryID = deliveryID
}

func (s *Service) appendHistory(ctx context.Context, region string, entry HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := store.HistoryKey(region)
	if err := s.store.LPush(ctx, key, data); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := s.store.LTrim(ctx, key, 0, s.historyCap-1); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (s *Service) historyBase(region string, msg channel.InboundMessage, final string) HistoryEntry {
	return HistoryEntry{
		ID:            uuid.NewString(),
		Region:        region,
		Channel:       msg.Channel,
		UserID:        msg.SenderID,
		ContactName:   msg.SenderName,
		UserMessage:   msg.Text,
		FinalResponse: final,
		ResolvedAt:    s.now(),
	}
}

func (s *Service) historyFromPending(pending PendingApproval, final string) HistoryEntry {
	return HistoryEntry{
		ID:            pending.ID,
		Region:        pending.Region,
		Channel:       pending.Channel,
		UserID:        pending.UserID,
		ContactName:   pending.ContactName,
		UserMessage:   pending.UserMessage,
		FinalResponse: final,
		ResolvedAt:    s.now(),
	}
}
