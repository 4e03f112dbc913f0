package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/store"
)

func testSink(st store.Store, recentCap int) *Sink {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSink(log, st, recentCap)
}

func TestRecordMessageStat(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	sink := testSink(st, 100)
	ctx := context.Background()

	sink.RecordMessageStat(ctx, MessageStat{
		Region:         "emea",
		Channel:        channel.TypeWhatsApp,
		ResponseTimeMS: 840,
		Tokens:         120,
		Outcome:        OutcomeAutoSent,
	})
	sink.RecordMessageStat(ctx, MessageStat{
		Region:         "emea",
		Channel:        channel.TypeTelegram,
		ResponseTimeMS: 510,
		Tokens:         80,
		Outcome:        OutcomePending,
	})

	buckets, err := sink.Stats(ctx, "emea", 1)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	today := time.Now().UTC().Format("2006-01-02")
	day := buckets[today]
	require.NotNil(t, day)
	assert.Equal(t, int64(2), day["messages"])
	assert.Equal(t, int64(200), day["tokens"])
	assert.Equal(t, int64(1350), day["response_time_ms"])
	assert.Equal(t, int64(1), day["outcome:auto_sent"])
	assert.Equal(t, int64(1), day["outcome:pending"])
}

func TestStatsSkipsEmptyDays(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	sink := testSink(st, 100)
	ctx := context.Background()

	sink.RecordMessageStat(ctx, MessageStat{Region: "emea", Outcome: OutcomeAutoSent})

	buckets, err := sink.Stats(ctx, "emea", 7)
	require.NoError(t, err)
	assert.Len(t, buckets, 1, "days without traffic carry no bucket")
}

func TestRecentLogIsBoundedAndNewestFirst(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	sink := testSink(st, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		sink.RecordRecentLog(ctx, "emea", LogEntry{
			Stage:  "ingest",
			Detail: fmt.Sprintf("queued m%d", i),
		})
	}

	entries, err := sink.RecentLogs(ctx, "emea")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "queued m7", entries[0].Detail)
	assert.Equal(t, "queued m3", entries[4].Detail)
}

func TestRecentLogStampsTime(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	sink := testSink(st, 10)
	ctx := context.Background()

	sink.RecordRecentLog(ctx, "emea", LogEntry{Stage: "worker", Detail: "processed m1"})

	entries, err := sink.RecentLogs(ctx, "emea")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Time.IsZero())
}

func TestLogsAreScopedPerRegion(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	sink := testSink(st, 10)
	ctx := context.Background()

	sink.RecordRecentLog(ctx, "emea", LogEntry{Detail: "emea event"})

	entries, err := sink.RecentLogs(ctx, "apac")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
