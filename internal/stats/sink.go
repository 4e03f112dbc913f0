package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/store"
)

// Message outcomes tracked in the day buckets.
const (
	OutcomeAutoSent = "auto_sent"
	OutcomePending  = "pending"
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
)

// MessageStat is one processed message's accounting record.
type MessageStat struct {
	Region         string
	Channel        channel.Type
	ResponseTimeMS int64
	Tokens         int
	Outcome        string
}

// LogEntry is one line of the bounded recent-activity log.
type LogEntry struct {
	Time    time.Time    `json:"time"`
	Stage   string       `json:"stage"`
	Channel channel.Type `json:"channel,omitempty"`
	UserID  string       `json:"user_id,omitempty"`
	Detail  string       `json:"detail"`
}

// Sink writes audit logs and day-bucketed counters. All writes are
// fire-and-forget: a sink failure is logged and never propagates into the
// message pipeline.
type Sink struct {
	store     store.Store
	recentCap int64
	logger    *slog.Logger
	now       func() time.Time
}

func NewSink(log *slog.Logger, st store.Store, recentCap int) *Sink {
	return &Sink{
		store:     st,
		recentCap: int64(recentCap),
		logger:    log.With(slog.String("service", "stats")),
		now:       time.Now,
	}
}

func (s *Sink) RecordMessageStat(ctx context.Context, stat MessageStat) {
	key := store.StatsKey(stat.Region, s.now())
	fields := map[string]int64{
		"messages":           1,
		"tokens":             int64(stat.Tokens),
		"response_time_ms":   stat.ResponseTimeMS,
		"outcome:" + stat.Outcome: 1,
	}
	for field, n := range fields {
		if err := s.store.HIncrBy(ctx, key, field, n); err != nil {
			s.logger.Warn("stat write failed", slog.String("field", field), slog.Any("error", err))
			return
		}
	}
}

func (s *Sink) RecordRecentLog(ctx context.Context, region string, entry LogEntry) {
	if entry.Time.IsZero() {
		entry.Time = s.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("log entry encode failed", slog.Any("error", err))
		return
	}
	key := store.RecentLogsKey(region)
	if err := s.store.LPush(ctx, key, data); err != nil {
		s.logger.Warn("log write failed", slog.Any("error", err))
		return
	}
	if err := s.store.LTrim(ctx, key, 0, s.recentCap-1); err != nil {
		s.logger.Warn("log trim failed", slog.Any("error", err))
	}
}

// RecentLogs returns the newest-first bounded activity log for a region.
func (s *Sink) RecentLogs(ctx context.Context, region string) ([]LogEntry, error) {
	raw, err := s.store.LRange(ctx, store.RecentLogsKey(region), 0, s.recentCap-1)
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(raw))
	for _, data := range raw {
		var entry LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Stats returns the counters for the last `days` day buckets, keyed by
// YYYY-MM-DD.
func (s *Sink) Stats(ctx context.Context, region string, days int) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, days)
	day := s.now().UTC()
	for i := 0; i < days; i++ {
		key := store.StatsKey(region, day)
		fields, err := s.store.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			bucket := make(map[string]int64, len(fields))
			for field, raw := range fields {
				var n int64
				if err := json.Unmarshal(raw, &n); err == nil {
					bucket[field] = n
				}
			}
			out[day.Format("2006-01-02")] = bucket
		}
		day = day.AddDate(0, 0, -1)
	}
	return out, nil
}
