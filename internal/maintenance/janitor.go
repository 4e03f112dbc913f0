package maintenance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/replygate/replygate/internal/config"
	"github.com/replygate/replygate/internal/store"
)

const nightlySchedule = "0 3 * * *"

// Janitor enforces the retention policy out of band: history and recent-log
// lists stay at their caps and stat buckets past the retention horizon are
// deleted. Dedup markers, counters, and sessions expire on their own TTLs.
type Janitor struct {
	store    store.Store
	pipeline config.PipelineConfig
	regions  []string
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

func NewJanitor(log *slog.Logger, st store.Store, pipeline config.PipelineConfig, regions []string) *Janitor {
	return &Janitor{
		store:    st,
		pipeline: pipeline,
		regions:  regions,
		logger:   log.With(slog.String("service", "maintenance")),
		cron:     cron.New(),
		now:      time.Now,
	}
}

func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(nightlySchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		j.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

func (j *Janitor) Stop() {
	j.cron.Stop()
}

// RunOnce performs one retention sweep across all regions.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, region := range j.regions {
		j.trimList(ctx, store.HistoryKey(region), int64(j.pipeline.HistoryCap))
		j.trimList(ctx, store.RecentLogsKey(region), int64(j.pipeline.RecentLogCap))
		j.purgeStats(ctx, region)
	}
	j.logger.Info("retention sweep complete", slog.Int("regions", len(j.regions)))
}

func (j *Janitor) trimList(ctx context.Context, key string, cap int64) {
	if err := j.store.LTrim(ctx, key, 0, cap-1); err != nil {
		j.logger.Warn("list trim failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (j *Janitor) purgeStats(ctx context.Context, region string) {
	prefix := store.StatsKeyPrefix(region)
	keys, err := j.store.KeysByPrefix(ctx, prefix)
	if err != nil {
		j.logger.Warn("stats scan failed", slog.String("region", region), slog.Any("error", err))
		return
	}
	horizon := j.now().UTC().AddDate(0, 0, -j.pipeline.StatsRetentionDays)
	for _, key := range keys {
		day, err := time.Parse("2006-01-02", strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		if day.Before(horizon) {
			if err := j.store.Delete(ctx, key); err != nil {
				j.logger.Warn("stats bucket delete failed", slog.String("key", key), slog.Any("error", err))
			}
		}
	}
}
