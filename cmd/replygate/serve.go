package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/replygate/replygate/internal/approval"
	"github.com/replygate/replygate/internal/channel"
	"github.com/replygate/replygate/internal/channel/adapters/discord"
	"github.com/replygate/replygate/internal/channel/adapters/messenger"
	"github.com/replygate/replygate/internal/channel/adapters/telegram"
	"github.com/replygate/replygate/internal/channel/adapters/whatsapp"
	"github.com/replygate/replygate/internal/config"
	"github.com/replygate/replygate/internal/generate"
	"github.com/replygate/replygate/internal/handlers"
	"github.com/replygate/replygate/internal/logger"
	"github.com/replygate/replygate/internal/maintenance"
	"github.com/replygate/replygate/internal/queue"
	"github.com/replygate/replygate/internal/server"
	"github.com/replygate/replygate/internal/session"
	"github.com/replygate/replygate/internal/stats"
	"github.com/replygate/replygate/internal/store"
	"github.com/replygate/replygate/internal/webhook"
	"github.com/replygate/replygate/internal/worker"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideRegistry,
			provideQueue,
			provideSessions,
			provideSink,
			provideApprovals,
			provideResponder,
			provideKnowledge,
			provideWorkerLoop,
			provideJanitor,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideSettingsHandler),
			provideServerHandler(provideApprovalsHandler),
			provideServerHandler(provideStatsHandler),
			provideServerHandler(provideGateway),
			provideServer,
		),
		fx.Invoke(
			startServer,
			startWorker,
			startJanitor,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Registrar)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, cfg config.Config) (store.Store, error) {
	st, err := store.NewRedis(context.Background(), cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return st.Close() }})
	return st, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	for _, region := range cfg.Regions {
		if region.WhatsApp != nil {
			registry.Register(region.Name, whatsapp.New(log, *region.WhatsApp))
		}
		if region.Messenger != nil {
			registry.Register(region.Name, messenger.New(log, *region.Messenger))
		}
		if region.Telegram != nil {
			registry.Register(region.Name, telegram.New(log, *region.Telegram))
		}
		if region.Discord != nil {
			registry.Register(region.Name, discord.New(log, *region.Discord))
		}
	}
	return registry
}

func provideQueue(log *slog.Logger, st store.Store) *queue.Queue {
	return queue.New(log, st)
}

func provideSessions(log *slog.Logger, st store.Store, cfg config.Config) *session.Manager {
	ttl := time.Duration(cfg.Pipeline.SessionTTLHours) * time.Hour
	return session.NewManager(log, st, ttl)
}

func provideSink(log *slog.Logger, st store.Store, cfg config.Config) *stats.Sink {
	return stats.NewSink(log, st, cfg.Pipeline.RecentLogCap)
}

func provideApprovals(log *slog.Logger, st store.Store, registry *channel.Registry, sink *stats.Sink, cfg config.Config) *approval.Service {
	return approval.NewService(log, st, registry, sink, cfg.Pipeline.HistoryCap)
}

func provideResponder(log *slog.Logger, cfg config.Config) generate.Responder {
	timeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	return generate.NewHTTPResponder(log, cfg.Generation.BaseURL, timeout)
}

func provideKnowledge(log *slog.Logger, cfg config.Config) generate.Knowledge {
	if cfg.Knowledge.BaseURL == "" {
		return nil
	}
	timeout := time.Duration(cfg.Knowledge.TimeoutSeconds) * time.Second
	return generate.NewHTTPKnowledge(log, cfg.Knowledge.BaseURL, timeout)
}

func provideWorkerLoop(
	log *slog.Logger,
	cfg config.Config,
	q *queue.Queue,
	sessions *session.Manager,
	responder generate.Responder,
	knowledge generate.Knowledge,
	approvals *approval.Service,
	registry *channel.Registry,
	sink *stats.Sink,
) *worker.Loop {
	return worker.NewLoop(log, cfg, q, sessions, responder, knowledge, approvals, registry, sink)
}

func provideJanitor(log *slog.Logger, st store.Store, cfg config.Config) *maintenance.Janitor {
	return maintenance.NewJanitor(log, st, cfg.Pipeline, regionNames(cfg))
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) (*handlers.AuthHandler, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("parse jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(log, cfg.Admin, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideSettingsHandler(log *slog.Logger, approvals *approval.Service, cfg config.Config) *handlers.SettingsHandler {
	return handlers.NewSettingsHandler(log, approvals, regionNames(cfg))
}

func provideApprovalsHandler(log *slog.Logger, approvals *approval.Service, cfg config.Config) *handlers.ApprovalsHandler {
	return handlers.NewApprovalsHandler(log, approvals, regionNames(cfg))
}

func provideStatsHandler(log *slog.Logger, sink *stats.Sink, cfg config.Config) *handlers.StatsHandler {
	return handlers.NewStatsHandler(log, sink, regionNames(cfg))
}

func provideGateway(log *slog.Logger, cfg config.Config, registry *channel.Registry, q *queue.Queue, st store.Store, sink *stats.Sink) *webhook.Gateway {
	return webhook.NewGateway(log, cfg.Pipeline, registry, q, st, sink)
}

type serverParams struct {
	fx.In
	Logger     *slog.Logger
	Config     config.Config
	Registrars []server.Registrar `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Registrars...)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func startWorker(lc fx.Lifecycle, log *slog.Logger, loop *worker.Loop, shutdowner fx.Shutdowner) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				if err := loop.Run(runCtx); err != nil {
					log.Error("worker loop failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startJanitor(lc fx.Lifecycle, janitor *maintenance.Janitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return janitor.Start() },
		OnStop: func(ctx context.Context) error {
			janitor.Stop()
			return nil
		},
	})
}

func regionNames(cfg config.Config) []string {
	names := make([]string, len(cfg.Regions))
	for i, r := range cfg.Regions {
		names[i] = r.Name
	}
	return names
}
