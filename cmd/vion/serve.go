package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/vionhq/vion/internal/auth"
	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/channel/adapters/slack"
	"github.com/vionhq/vion/internal/channel/adapters/telegram"
	"github.com/vionhq/vion/internal/channel/adapters/web"
	"github.com/vionhq/vion/internal/channel/adapters/whatsapp"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/config"
	"github.com/vionhq/vion/internal/conversation"
	"github.com/vionhq/vion/internal/db"
	"github.com/vionhq/vion/internal/handlers"
	"github.com/vionhq/vion/internal/logger"
	"github.com/vionhq/vion/internal/notify"
	"github.com/vionhq/vion/internal/server"
	"github.com/vionhq/vion/internal/session"
	"github.com/vionhq/vion/internal/tenant"
	"github.com/vionhq/vion/internal/usage"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideTelegramAdapter,
			provideChannelRegistry,
			provideSessionStore,
			provideTenantStore,
			provideRouter,
			provideRelay,
			provideSentiment,
			provideMeter,
			provideNotifier,
			provideAuthService,
			provideConversationService,
			providePingHandler,
			provideAuthHandler,
			provideChatHandler,
			provideWebhookHandler,
			provideChannelsHandler,
			provideOperatorHandler,
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startMeter,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideTelegramAdapter(log *slog.Logger) *telegram.Adapter {
	return telegram.NewAdapter(log)
}

func provideChannelRegistry(log *slog.Logger, tg *telegram.Adapter) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	for _, adapter := range []channel.Adapter{
		web.NewAdapter(log),
		tg,
		slack.NewAdapter(log),
		whatsapp.NewAdapter(log),
	} {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func provideSessionStore(log *slog.Logger, pool *pgxpool.Pool) *session.Store {
	return session.NewStore(log, pool)
}

func provideTenantStore(log *slog.Logger, pool *pgxpool.Pool) *tenant.Store {
	return tenant.NewStore(log, pool)
}

func provideRouter(log *slog.Logger, cfg config.Config) *chat.Router {
	providers := chat.BuildProviders(log, cfg.Providers)
	return chat.NewRouter(log, providers, cfg.Providers.ContextDepth)
}

func provideRelay(log *slog.Logger, router *chat.Router) *chat.Relay {
	return chat.NewRelay(log, router)
}

func provideSentiment(log *slog.Logger, router *chat.Router) *chat.SentimentClassifier {
	return chat.NewSentimentClassifier(log, router)
}

func provideMeter(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *usage.Meter {
	return usage.NewMeter(log, pool, cfg.Usage.QueueSize)
}

func provideNotifier(log *slog.Logger, cfg config.Config) *notify.Notifier {
	return notify.NewNotifier(log, cfg.Notify)
}

func provideAuthService(log *slog.Logger, cfg config.Config) *auth.Service {
	return auth.NewService(log, cfg.Auth)
}

func provideConversationService(log *slog.Logger, sessions *session.Store, tenants *tenant.Store, registry *channel.Registry, router *chat.Router, relay *chat.Relay, sentiment *chat.SentimentClassifier, meter *usage.Meter, notifier *notify.Notifier, cfg config.Config) *conversation.Service {
	return conversation.NewService(log, sessions, tenants, registry, router, relay, conversation.Options{
		Sentiment:    sentiment,
		Meter:        meter,
		Alerter:      notifier,
		ContextDepth: cfg.Providers.ContextDepth,
		SystemPrompt: cfg.Providers.SystemPrompt,
	})
}

func providePingHandler() *handlers.PingHandler {
	return handlers.NewPingHandler()
}

func provideAuthHandler(log *slog.Logger, svc *auth.Service) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, svc)
}

func provideChatHandler(log *slog.Logger, svc *conversation.Service) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, svc)
}

func provideWebhookHandler(log *slog.Logger, registry *channel.Registry, svc *conversation.Service, tenants *tenant.Store) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, svc, tenants)
}

func provideChannelsHandler(log *slog.Logger, registry *channel.Registry, tenants *tenant.Store, tg *telegram.Adapter, cfg config.Config) *handlers.ChannelsHandler {
	return handlers.NewChannelsHandler(log, registry, tenants, tg, cfg.Server.PublicBaseURL)
}

func provideOperatorHandler(log *slog.Logger, sessions *session.Store, svc *conversation.Service, meter *usage.Meter) *handlers.OperatorHandler {
	return handlers.NewOperatorHandler(log, sessions, svc, meter)
}

func provideServer(cfg config.Config, log *slog.Logger, ping *handlers.PingHandler, authHandler *handlers.AuthHandler, chatHandler *handlers.ChatHandler, webhookHandler *handlers.WebhookHandler, channelsHandler *handlers.ChannelsHandler, operatorHandler *handlers.OperatorHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, log,
		ping, authHandler, chatHandler, webhookHandler, channelsHandler, operatorHandler)
}

func runMigrations(cfg config.Config, log *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database schema up to date")
	return nil
}

func startMeter(lc fx.Lifecycle, meter *usage.Meter) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { meter.Start(); return nil },
		OnStop:  func(ctx context.Context) error { meter.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, webhookHandler *handlers.WebhookHandler, shutdowner fx.Shutdowner) {
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
			webhookHandler.Wait()
			return nil
		},
	})
}
