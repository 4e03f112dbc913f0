package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replygate/replygate/internal/approval"
	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
	"github.com/replygate/replygate/internal/generate"
	"github.com/replygate/replygate/internal/queue"
	"github.com/replygate/replygate/internal/session"
	"github.com/replygate/replygate/internal/stats"
	"github.com/replygate/replygate/internal/store"
	"github.com/replygate/replygate/internal/worker"
)

type sentMessage struct {
	UserID string
	Text   string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (a *fakeAdapter) Type() channel.Type                             { return channel.TypeWhatsApp }
func (a *fakeAdapter) HandshakeToken() string                         { return "" }
func (a *fakeAdapter) Authenticate(http.Header, []byte) bool          { return true }
func (a *fakeAdapter) Parse([]byte) ([]channel.InboundMessage, error) { return nil, nil }

func (a *fakeAdapter) Send(_ context.Context, userID, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMessage{UserID: userID, Text: text})
	return "delivery-1", nil
}

func (a *fakeAdapter) SendQuickReplies(ctx context.Context, userID, text string, _ []channel.QuickReply) (string, error) {
	return a.Send(ctx, userID, text)
}

func (a *fakeAdapter) SendButtons(ctx context.Context, userID, text string, _ []channel.Button) (string, error) {
	return a.Send(ctx, userID, text)
}

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *fakeAdapter) lastSent() sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent[len(a.sent)-1]
}

type fakeResponder struct {
	reply generate.Reply
	err   error
}

func (r *fakeResponder) Generate(context.Context, generate.Request) (generate.Reply, error) {
	if r.err != nil {
		return generate.Reply{}, r.err
	}
	return r.reply, nil
}

type fixture struct {
	loop      *worker.Loop
	queue     *queue.Queue
	sessions  *session.Manager
	approvals *approval.Service
	sink      *stats.Sink
	adapter   *fakeAdapter
	store     *store.MemoryStore
}

func newFixture(t *testing.T, responder generate.Responder) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()

	cfg := config.Config{
		Pipeline: config.PipelineConfig{
			RateLimitPerMinute: 10,
			DedupTTLSeconds:    600,
			FreshnessSeconds:   300,
			HistoryWindow:      20,
			SessionTTLHours:    24,
			HistoryCap:         200,
			RecentLogCap:       100,
			PollTimeoutSeconds: 1,
			StatsRetentionDays: 90,
		},
		Regions: []config.RegionConfig{{
			Name:             "emea",
			SystemPrompt:     "You answer for a bakery.",
			FallbackReply:    "We will get back to you shortly.",
			KnowledgeDefault: "Open 9-18.",
		}},
	}

	adapter := &fakeAdapter{}
	registry := channel.NewRegistry()
	registry.Register("emea", adapter)

	q := queue.New(log, st)
	sessions := session.NewManager(log, st, 24*time.Hour)
	sink := stats.NewSink(log, st, 100)
	approvals := approval.NewService(log, st, registry, sink, 200)

	return &fixture{
		loop:      worker.NewLoop(log, cfg, q, sessions, responder, nil, approvals, registry, sink),
		queue:     q,
		sessions:  sessions,
		approvals: approvals,
		sink:      sink,
		adapter:   adapter,
		store:     st,
	}
}

func (f *fixture) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.loop.Run(ctx)
	}()

	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func queueItem(id string) channel.QueueItem {
	return channel.QueueItem{
		Region:  "emea",
		Channel: channel.TypeWhatsApp,
		Message: channel.InboundMessage{
			ID:        id,
			Channel:   channel.TypeWhatsApp,
			SenderID:  "491701234567",
			Text:      "When do you open?",
			Timestamp: time.Now(),
		},
		EnqueuedAt: time.Now(),
	}
}

func TestProcessDeliversWhenApprovalDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeResponder{reply: generate.Reply{Text: "We open at 9am.", Tokens: 12}})
	ctx := context.Background()
	require.NoError(t, f.queue.Push(ctx, queueItem("m1")))

	f.runUntil(t, func() bool { return f.adapter.sentCount() == 1 })

	sent := f.adapter.lastSent()
	assert.Equal(t, "491701234567", sent.UserID)
	assert.Equal(t, "We open at 9am.", sent.Text)

	history, err := f.approvals.History(ctx, "emea")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, approval.StatusAutoSent, history[0].Status)

	sess, ok, err := f.sessions.Get(ctx, channel.TypeWhatsApp, "491701234567")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sess.History, 2)
	assert.Equal(t, session.RoleUser, sess.History[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.History[1].Role)
	assert.Equal(t, "We open at 9am.", sess.History[1].Content)
}

func TestProcessParksReplyWhenApprovalEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeResponder{reply: generate.Reply{Text: "We open at 9am."}})
	ctx := context.Background()
	require.NoError(t, f.approvals.SetSettings(ctx, "emea", approval.Settings{ManualApprovalEnabled: true}))
	require.NoError(t, f.queue.Push(ctx, queueItem("m1")))

	f.runUntil(t, func() bool {
		pending, _ := f.approvals.Pending(ctx, "emea")
		return len(pending) == 1
	})

	assert.Zero(t, f.adapter.sentCount(), "nothing is delivered while pending")

	pending, _ := f.approvals.Pending(ctx, "emea")
	require.Len(t, pending, 1)
	assert.Equal(t, "We open at 9am.", pending[0].ProposedResponse)
	assert.Equal(t, "When do you open?", pending[0].UserMessage)
}

func TestGenerationFailureSendsFallbackOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeResponder{err: errors.New("model unavailable")})
	ctx := context.Background()
	require.NoError(t, f.queue.Push(ctx, queueItem("m1")))

	f.runUntil(t, func() bool { return f.adapter.sentCount() == 1 })

	sent := f.adapter.lastSent()
	assert.Equal(t, "We will get back to you shortly.", sent.Text)

	pending, _ := f.approvals.Pending(ctx, "emea")
	assert.Empty(t, pending, "a failed generation never becomes a pending entry")
}

func TestGenerationFailureWithApprovalEnabledStaysSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeResponder{err: errors.New("model unavailable")})
	ctx := context.Background()
	require.NoError(t, f.approvals.SetSettings(ctx, "emea", approval.Settings{ManualApprovalEnabled: true}))
	require.NoError(t, f.queue.Push(ctx, queueItem("m1")))

	f.runUntil(t, func() bool {
		logs, _ := f.sink.RecentLogs(ctx, "emea")
		return len(logs) > 0
	})

	assert.Zero(t, f.adapter.sentCount(), "no fallback while a human gate is on")
	pending, _ := f.approvals.Pending(ctx, "emea")
	assert.Empty(t, pending)
}

func TestSequentialProcessingPreservesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeResponder{reply: generate.Reply{Text: "ack"}})
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, f.queue.Push(ctx, queueItem(id)))
	}

	f.runUntil(t, func() bool { return f.adapter.sentCount() == 3 })

	sess, ok, err := f.sessions.Get(ctx, channel.TypeWhatsApp, "491701234567")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, sess.MessageCount)
	assert.Len(t, sess.History, 6, "three user turns and three assistant turns")
}
