package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replygate/replygate/internal/approval"
	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
	"github.com/replygate/replygate/internal/generate"
	"github.com/replygate/replygate/internal/queue"
	"github.com/replygate/replygate/internal/session"
	"github.com/replygate/replygate/internal/stats"
)

// Loop is the single sequential consumer: it drains the region queues one item
// at a time, updates the session, calls the reply generator, and hands the
// result to the approval gate. A failure on one item is logged and the loop
// moves on; it never takes the process down with it.
type Loop struct {
	cfg       config.Config
	queue     *queue.Queue
	sessions  *session.Manager
	responder generate.Responder
	knowledge generate.Knowledge
	approvals *approval.Service
	registry  *channel.Registry
	sink      *stats.Sink
	logger    *slog.Logger
	now       func() time.Time
}

func NewLoop(
	log *slog.Logger,
	cfg config.Config,
	q *queue.Queue,
	sessions *session.Manager,
	responder generate.Responder,
	knowledge generate.Knowledge,
	approvals *approval.Service,
	registry *channel.Registry,
	sink *stats.Sink,
) *Loop {
	return &Loop{
		cfg:       cfg,
		queue:     q,
		sessions:  sessions,
		responder: responder,
		knowledge: knowledge,
		approvals: approvals,
		registry:  registry,
		sink:      sink,
		logger:    log.With(slog.String("service", "worker")),
		now:       time.Now,
	}
}

// Run consumes until ctx is canceled. Cancellation is observed between polls;
// the item currently being processed always runs to completion.
func (l *Loop) Run(ctx context.Context) error {
	regions := make([]string, len(l.cfg.Regions))
	for i, r := range l.cfg.Regions {
		regions[i] = r.Name
	}
	pollTimeout := time.Duration(l.cfg.Pipeline.PollTimeoutSeconds) * time.Second

	l.logger.Info("worker started", slog.Any("regions", regions))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker stopped")
			return nil
		default:
		}

		item, ok, err := l.queue.Pop(ctx, regions, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("worker stopped")
				return nil
			}
			l.logger.Error("queue poll failed", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		// The dequeue was destructive, so the item gets an uncancelable
		// context: shutdown waits for it rather than losing it mid-flight.
		l.processSafely(context.WithoutCancel(ctx), item)
	}
}

func (l *Loop) processSafely(ctx context.Context, item channel.QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic while processing message",
				slog.String("message_id", item.Message.ID),
				slog.Any("panic", r))
		}
	}()
	if err := l.processOne(ctx, item); err != nil {
		l.logger.Error("message processing failed",
			slog.String("region", item.Region),
			slog.String("channel", item.Channel.String()),
			slog.String("message_id", item.Message.ID),
			slog.Any("error", err))
	}
}

func (l *Loop) processOne(ctx context.Context, item channel.QueueItem) error {
	start := l.now()
	msg := item.Message

	region, ok := l.cfg.Region(item.Region)
	if !ok {
		return fmt.Errorf("unknown region %q", item.Region)
	}

	// One settings read per message: the gate decision stays deterministic
	// even if an admin flips the flag while this message is in flight.
	settings, err := l.approvals.Settings(ctx, region.Name)
	if err != nil {
		l.logger.Warn("settings read failed, assuming approval disabled", slog.Any("error", err))
		settings = approval.Settings{}
	}

	sess, err := l.sessions.GetOrCreate(ctx, msg.Channel, msg.SenderID, start)
	if err != nil {
		return err
	}
	sess.Append(session.RoleUser, msg.Text, l.cfg.Pipeline.HistoryWindow, start)

	snippet := region.KnowledgeDefault
	if l.knowledge != nil {
		if found, err := l.knowledge.Lookup(ctx, region.Name, msg.Text); err != nil {
			l.logger.Warn("knowledge lookup failed, using default", slog.Any("error", err))
		} else if found != "" {
			snippet = found
		}
	}

	reply, err := l.responder.Generate(ctx, generate.Request{
		Region:       region.Name,
		SystemPrompt: region.SystemPrompt,
		UserText:     msg.Text,
		Knowledge:    snippet,
		History:      sess.History,
	})
	if err != nil {
		l.handleGenerationFailure(ctx, settings, region, msg, start)
		return fmt.Errorf("generate reply: %w", err)
	}

	sess.Append(session.RoleAssistant, reply.Text, l.cfg.Pipeline.HistoryWindow, l.now())
	if err := l.sessions.Put(ctx, msg.Channel, msg.SenderID, sess); err != nil {
		return err
	}

	outcome, err := l.approvals.Gate(ctx, settings, region.Name, msg, reply.Text)
	if err != nil {
		return fmt.Errorf("approval gate: %w", err)
	}

	l.sink.RecordMessageStat(ctx, stats.MessageStat{
		Region:         region.Name,
		Channel:        msg.Channel,
		ResponseTimeMS: l.now().Sub(start).Milliseconds(),
		Tokens:         reply.Tokens,
		Outcome:        outcome,
	})
	l.sink.RecordRecentLog(ctx, region.Name, stats.LogEntry{
		Stage:   "worker",
		Channel: msg.Channel,
		UserID:  msg.SenderID,
		Detail:  fmt.Sprintf("processed %s (%s)", msg.ID, outcome),
	})
	return nil
}

// handleGenerationFailure sends the region's canned fallback when no human
// gate would catch the silence. With approval enabled nothing is queued: a
// failed generation never becomes a pending entry.
func (l *Loop) handleGenerationFailure(ctx context.Context, settings approval.Settings, region config.RegionConfig, msg channel.InboundMessage, start time.Time) {
	outcome := stats.OutcomeFailed
	if !settings.ManualApprovalEnabled {
		outcome = stats.OutcomeFallback
		if adapter, ok := l.registry.Get(region.Name, msg.Channel); ok {
			if _, err := adapter.Send(ctx, msg.SenderID, region.FallbackReply); err != nil {
				l.logger.Error("fallback delivery failed", slog.Any("error", err))
				outcome = stats.OutcomeFailed
			}
		}
	}
	l.sink.RecordMessageStat(ctx, stats.MessageStat{
		Region:         region.Name,
		Channel:        msg.Channel,
		ResponseTimeMS: l.now().Sub(start).Milliseconds(),
		Outcome:        outcome,
	})
	l.sink.RecordRecentLog(ctx, region.Name, stats.LogEntry{
		Stage:   "worker",
		Channel: msg.Channel,
		UserID:  msg.SenderID,
		Detail:  "generation failed for " + msg.ID,
	})
}
