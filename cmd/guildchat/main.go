package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appoutbox "guildchat/internal/app/outbox"
	"guildchat/internal/app/pipeline"
	"guildchat/internal/infra/broker/kafka"
	"guildchat/internal/infra/config"
	mongostore "guildchat/internal/infra/db/mongo"
	ginserver "guildchat/internal/infra/http/gin"
	"guildchat/internal/infra/obs"
	infraoutbox "guildchat/internal/infra/outbox"
	"guildchat/internal/infra/storage/memory"
	"guildchat/internal/infra/storage/s3"
	"guildchat/internal/infra/storage/scylla"
	"guildchat/internal/realtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application wiring failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	if app.outboxWorker != nil {
		go func() {
			if err := app.outboxWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store_mode", cfg.StoreMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers     ginserver.Handlers
	outboxWorker *infraoutbox.Worker
	ready        func() error
	closers      []func() error
	logger       *slog.Logger
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		ready:  func() error { return nil },
		logger: logger,
	}

	var (
		conversations pipeline.ConversationStore
		messages      pipeline.MessageStore
		attachments   pipeline.AttachmentChecker = s3.NoopChecker{}
		events        pipeline.EventSink
	)

	switch cfg.StoreMode {
	case config.StoreModeCluster:
		mongoClient, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error {
			return mongoClient.Close(context.Background())
		})
		convStore := mongostore.NewConversationStore(mongoClient.DB)
		if err := convStore.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		conversations = convStore

		session, err := scylla.NewSession(cfg, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error {
			session.Close()
			return nil
		})
		messages = scylla.NewMessageStore(session, logger)

		if cfg.S3Endpoint != "" {
			checker, err := s3.NewChecker(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, logger)
			if err != nil {
				return nil, err
			}
			attachments = checker
		}

		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, producer.Close)
		outboxStore := infraoutbox.NewMongoStore(mongoClient.DB)
		events = appoutbox.Recorder{Box: outboxStore, Encoder: appoutbox.JSONEventEncoder{}}
		app.outboxWorker = &infraoutbox.Worker{
			Store:       outboxStore,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
		app.ready = func() error { return mongoClient.Ping(context.Background()) }
	default:
		conversations = memory.NewConversationStore()
		messages = memory.NewMessageStore()
		outboxStore := infraoutbox.NewStore()
		events = appoutbox.Recorder{Box: outboxStore, Encoder: appoutbox.JSONEventEncoder{}}
		app.outboxWorker = &infraoutbox.Worker{
			Store:       outboxStore,
			Producer:    infraoutbox.LogProducer{Logger: logger},
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
		logger.Info("using in-memory stores", "mode", cfg.StoreMode)
	}

	registry := realtime.NewRegistry(participantAdapter{conversations}, logger)
	presence := realtime.NewPresenceTracker(registry.BroadcastAll)
	typing := realtime.NewTypingCoordinator(registry, cfg.TypingTTL, logger)
	notifier := realtime.NewNotificationRouter()
	registry.Subscribe(presence)
	registry.Subscribe(typing)
	registry.Subscribe(notifier)
	registry.SetAlertPolicy(notifier)

	svc := &pipeline.Service{
		Conversations: conversations,
		Messages:      messages,
		Broadcast:     registry,
		Events:        events,
		Attachments:   attachments,
		Logger:        logger,
		DeleteWindow:  cfg.DeleteWindow,
	}

	auth := ginserver.AuthMiddleware{
		Resolver: ginserver.StaticTokenResolver{Tokens: cfg.StaticTokens},
		Logger:   logger,
	}
	stream := ginserver.WSHandler{
		Registry: registry,
		Typing:   typing,
		Notifier: notifier,
		Pipeline: svc,
		Logger:   logger,
	}
	app.handlers = ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Pipeline: svc, Logger: logger},
		Stream:         stream.Stream,
		AuthMiddleware: auth.Handle,
	}
	return app, nil
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("shutdown cleanup failed", "error", err)
		}
	}
}

// participantAdapter narrows the conversation store to the registry's fan-out
// lookup.
type participantAdapter struct {
	store pipeline.ConversationStore
}

func (p participantAdapter) Participants(ctx context.Context, conversationID string) ([]string, error) {
	return p.store.Participants(ctx, conversationID)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
