package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/cache"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/events"
	"github.com/fathima-sithara/messaging-service/internal/media"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/middleware"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/profile"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/utils"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Dev(), cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// store
	convs, users, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store init: %v", err)
	}

	// redis: presence, cross-node relay, send limit
	var (
		rc       *cache.Client
		relay    ws.Relay
		presence *cache.Presence
	)
	if cfg.Redis.Enabled {
		rc, err = cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			logger.Fatalf("redis init: %v", err)
		}
		relay = cache.NewRelay(rc, cfg.Redis.Channel)
		presence = cache.NewPresence(rc)
	}

	// domain events
	var pub events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled {
		// the request path only enqueues; a stalled broker costs dropped events, not latency
		pub = events.NewAsync(events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger, 1024, 5*time.Second)
		logger.Infow("publishing events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// services
	pol := policy.Demo(cfg.Policy.RestrictedAccounts, cfg.Policy.SystemAccount)
	unread := service.NewUnreadNotifier(users, nil, logger)
	resolver := service.NewResolver(convs, users, pol, pub, logger, cfg.Messaging.ResolveRetries)
	msgr := service.NewMessenger(convs, users, pol, unread, pub, logger, service.MessengerOptions{
		MaxBodyLength: cfg.Messaging.MaxBodyLength,
		ClearOnLoad:   cfg.Unread.ClearOnLoad,
	})
	if rc != nil && cfg.Messaging.SendLimit > 0 {
		msgr.WithLimiter(cache.NewSendLimiter(rc, cfg.Messaging.SendLimit, cfg.SendWindow))
	}

	// gateway
	hubOpts := ws.HubOptions{NodeID: cfg.App.NodeID, UnreadMode: cfg.Unread.Mode, Relay: relay}
	if presence != nil {
		hubOpts.Presence = presence
	}
	hub := ws.NewHub(logger, hubOpts)
	unread.SetSignaler(hub)
	router := ws.NewRouter(hub, resolver, msgr, unread, logger)

	if cfg.Profile.Enabled {
		var disc profile.Discovery
		if cfg.Profile.ConsulAddr != "" {
			disc, err = profile.Consul(cfg.Profile.ConsulAddr, 30*time.Second, logger.Desugar())
			if err != nil {
				logger.Fatalf("consul init: %v", err)
			}
		} else {
			disc = profile.Static(cfg.Profile.BaseURL)
		}
		router.WithProfiles(profile.NewClient(disc, logger.Desugar(), profile.Options{
			Service:     cfg.Profile.Service,
			Timeout:     cfg.ProfileTimeout,
			MaxFailures: cfg.Profile.MaxFailures,
			OpenTimeout: time.Duration(cfg.Profile.OpenSeconds) * time.Second,
			Retries:     2,
		}), 300*time.Millisecond)
	}

	// attachments
	var mediaSvc *media.Service
	if cfg.AWS.Enabled {
		store, err := media.NewS3Store(ctx, cfg.AWS.Region, cfg.AWS.Bucket, cfg.AWS.Endpoint, cfg.S3.PublicRead)
		if err != nil {
			logger.Fatalf("s3 init: %v", err)
		}
		mediaSvc = media.NewService(store, cfg.PresignTTL, cfg.S3.MaxFileBytes, logger)
	}

	jv, err := auth.New(cfg.JWT.Alg, cfg.JWT.PublicKeyPath, cfg.JWT.HSSecret)
	if err != nil {
		logger.Fatalf("jwt init: %v", err)
	}

	ipLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, logger)
	go ipLimiter.Cleanup(ctx)

	deps := api.Deps{
		Log:             logger,
		Validator:       jv,
		Hub:             hub,
		Router:          router,
		Messenger:       msgr,
		Unread:          unread,
		Limiter:         ipLimiter,
		Media:           mediaSvc,
		EventsPerSecond: cfg.Messaging.EventsPerSecond,
		MaxUploadBytes:  cfg.S3.MaxFileBytes,
		AllowedOrigins:  cfg.App.AllowedOrigins,
	}
	if presence != nil {
		deps.Presence = presence
	}
	app := api.NewServer(deps)

	// start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("starting messaging service", "addr", cfg.Addr(), "node", hub.NodeID(), "store", cfg.Store.Driver)
		serverErr <- app.Listen(cfg.Addr())
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Infow("shutdown requested", "signal", sig.String())
	case err := <-serverErr:
		logger.Errorw("listen failed", "error", err)
	}

	timeoutCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	hub.Shutdown()
	if err := app.ShutdownWithContext(timeoutCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	cancel()
	if err := pub.Close(); err != nil {
		logger.Warnw("close event publisher", "error", err)
	}
	if rc != nil {
		_ = rc.Close()
	}
	if err := closeStore(timeoutCtx); err != nil {
		logger.Warnw("close store", "error", err)
	}
	logger.Info("shutdown completed")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.ConversationRepository, repository.UserRepository, func(context.Context) error, error) {
	if cfg.Store.Driver == "memory" {
		m := repository.NewMemory()
		for _, u := range cfg.Store.SeedUsers {
			if err := m.Insert(ctx, &domain.User{Username: u}); err != nil && !errors.Is(err, domain.ErrDuplicate) {
				return nil, nil, nil, err
			}
		}
		logger.Warnw("using the in-memory store, data is lost on restart", "seeded", cfg.Store.SeedUsers)
		return m, m, func(context.Context) error { return nil }, nil
	}

	client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, 30*time.Second)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	db := client.Database(cfg.Mongo.Database)
	convs, err := repository.NewMongoConversationRepo(ctx, db, cfg.Mongo.Conversations, cfg.StoreTimeout)
	if err != nil {
		return nil, nil, nil, err
	}
	users, err := repository.NewMongoUserRepo(ctx, db, cfg.Mongo.Users, cfg.StoreTimeout)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Infow("connected to mongo", "database", cfg.Mongo.Database)
	return convs, users, client.Disconnect, nil
}
