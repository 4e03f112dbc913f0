package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/config"
	"github.com/replygate/replygate/internal/queue"
	"github.com/replygate/replygate/internal/stats"
	"github.com/replygate/replygate/internal/store"
)

const rateLimitWindow = time.Minute

// Gateway is the stateless webhook entry point: it authenticates deliveries,
// normalizes payloads, and enqueues fresh, non-duplicate, non-rate-limited
// messages. It always acknowledges with 2xx once parsing succeeded, so the
// platform does not retry-storm; only bad signatures and unknown routes are
// surfaced as errors.
type Gateway struct {
	pipeline config.PipelineConfig
	registry *channel.Registry
	queue    *queue.Queue
	store    store.Store
	sink     *stats.Sink
	logger   *slog.Logger
	now      func() time.Time
}

func NewGateway(log *slog.Logger, pipeline config.PipelineConfig, registry *channel.Registry, q *queue.Queue, st store.Store, sink *stats.Sink) *Gateway {
	return &Gateway{
		pipeline: pipeline,
		registry: registry,
		queue:    q,
		store:    st,
		sink:     sink,
		logger:   log.With(slog.String("service", "webhook")),
		now:      time.Now,
	}
}

func (g *Gateway) Register(e *echo.Echo) {
	e.GET("/webhooks/:region/:channel", g.Verify)
	e.POST("/webhooks/:region/:channel", g.Receive)
}

func (g *Gateway) adapter(c echo.Context) (string, channel.Adapter, error) {
	region := c.Param("region")
	chType := channel.Type(c.Param("channel"))
	adapter, ok := g.registry.Get(region, chType)
	if !ok {
		return "", nil, echo.NewHTTPError(http.StatusNotFound, "unknown region or channel")
	}
	return region, adapter, nil
}

// Verify answers the platform's GET subscription handshake.
func (g *Gateway) Verify(c echo.Context) error {
	_, adapter, err := g.adapter(c)
	if err != nil {
		return err
	}

	token := adapter.HandshakeToken()
	mode := queryParam(c, "hub.mode", "mode")
	verifyToken := queryParam(c, "hub.verify_token", "verify_token")
	challenge := queryParam(c, "hub.challenge", "challenge")

	if token == "" || mode != "subscribe" || !channel.ConstantTimeEquals(token, verifyToken) {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

func queryParam(c echo.Context, names ...string) string {
	for _, name := range names {
		if v := c.QueryParam(name); v != "" {
			return v
		}
	}
	return ""
}

type receiveResponse struct {
	Status           string `json:"status"`
	MessagesReceived int    `json:"messages_received"`
	MessagesQueued   int    `json:"messages_queued"`
}

// Receive handles a webhook delivery POST.
func (g *Gateway) Receive(c echo.Context) error {
	region, adapter, err := g.adapter(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if !adapter.Authenticate(c.Request().Header, body) {
		g.logger.Warn("webhook signature rejected",
			slog.String("region", region),
			slog.String("channel", adapter.Type().String()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	messages, err := adapter.Parse(body)
	if err != nil {
		// Malformed payloads yield zero messages; the platform still gets its
		// ack so it does not retry a body we will never accept.
		g.logger.Warn("webhook payload not parseable",
			slog.String("region", region),
			slog.String("channel", adapter.Type().String()),
			slog.Any("error", err))
		return c.JSON(http.StatusOK, receiveResponse{Status: "ok"})
	}

	queued := 0
	for _, msg := range messages {
		if g.admit(c, region, msg) {
			queued++
		}
	}
	return c.JSON(http.StatusOK, receiveResponse{
		Status:           "ok",
		MessagesReceived: len(messages),
		MessagesQueued:   queued,
	})
}

// admit runs the per-message gate: freshness, dedup, rate limit, enqueue.
// Failures drop the message (logged); they never fail the webhook response.
func (g *Gateway) admit(c echo.Context, region string, msg channel.InboundMessage) bool {
	ctx := c.Request().Context()
	log := g.logger.With(
		slog.String("region", region),
		slog.String("channel", msg.Channel.String()),
		slog.String("message_id", msg.ID))

	freshness := time.Duration(g.pipeline.FreshnessSeconds) * time.Second
	if g.now().Sub(msg.Timestamp) > freshness {
		log.Debug("stale message discarded", slog.Time("wire_timestamp", msg.Timestamp))
		return false
	}

	dedupTTL := time.Duration(g.pipeline.DedupTTLSeconds) * time.Second
	fresh, err := g.store.SetNX(ctx, store.DedupKey(msg.ID), []byte("1"), dedupTTL)
	if err != nil {
		log.Error("dedup store unavailable, message dropped", slog.Any("error", err))
		return false
	}
	if !fresh {
		log.Debug("duplicate message skipped")
		return false
	}

	if !g.underRateLimit(ctx, log, msg) {
		return false
	}

	item := channel.QueueItem{
		Region:     region,
		Channel:    msg.Channel,
		Message:    msg,
		EnqueuedAt: g.now(),
	}
	if err := g.queue.Push(ctx, item); err != nil {
		// No local durable fallback: the message is lost and the loss logged.
		log.Error("enqueue failed, message dropped", slog.Any("error", err))
		return false
	}

	g.sink.RecordRecentLog(ctx, region, stats.LogEntry{
		Stage:   "ingest",
		Channel: msg.Channel,
		UserID:  msg.SenderID,
		Detail:  "queued " + msg.ID,
	})
	return true
}

func (g *Gateway) underRateLimit(ctx context.Context, log *slog.Logger, msg channel.InboundMessage) bool {
	key := store.RateLimitKey(msg.Channel.String(), msg.SenderID)
	count, err := g.store.Incr(ctx, key)
	if err != nil {
		log.Error("rate limit store unavailable, message dropped", slog.Any("error", err))
		return false
	}
	if count == 1 {
		if err := g.store.Expire(ctx, key, rateLimitWindow); err != nil {
			log.Warn("rate limit expiry not set", slog.Any("error", err))
		}
	}
	if count > int64(g.pipeline.RateLimitPerMinute) {
		log.Warn("rate limit exceeded, message dropped", slog.Int64("count", count))
		return false
	}
	return true
}
