package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/cachestore"
	"github.com/LZ58840/AnimewallpaperBot/automod/consumer"
	"github.com/LZ58840/AnimewallpaperBot/automod/countstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/dbstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/flagstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/queue"
	"github.com/LZ58840/AnimewallpaperBot/automod/rules"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/reddit"
	"github.com/LZ58840/AnimewallpaperBot/util/cliutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Server struct {
	logger     *slog.Logger
	store      *dbstore.DBStore
	reddit     *reddit.Client
	engine     *engine.Engine
	dispatcher *visual.Dispatcher
	queue      queue.Queue
	rdb        *redis.Client
}

type Config struct {
	DatabaseURL       string
	MaxDBConnections  int
	RedisURL          string
	Reddit            reddit.Config
	SimilarityWorkers int
	PollInterval      time.Duration
	RemovalQuotaDay   int
	SlackWebhookURL   string
	DiscordWebhookURL string
	Logger            *slog.Logger
}

func configFromCLI(cctx *cli.Context, logger *slog.Logger) Config {
	return Config{
		DatabaseURL:      cctx.String("database-url"),
		MaxDBConnections: cctx.Int("max-metadb-connections"),
		RedisURL:         cctx.String("redis-url"),
		Reddit: reddit.Config{
			ClientID:     cctx.String("reddit-client-id"),
			ClientSecret: cctx.String("reddit-client-secret"),
			RefreshToken: cctx.String("reddit-refresh-token"),
			UserAgent:    cctx.String("reddit-user-agent"),
			RateLimit:    cctx.Float64("reddit-rate-limit"),
		},
		// command-specific flags; zero when the command doesn't define them
		SimilarityWorkers: cctx.Int("similarity-workers"),
		PollInterval:      cctx.Duration("poll-interval"),
		RemovalQuotaDay:   cctx.Int("removal-quota-day"),
		SlackWebhookURL:   cctx.String("slack-webhook-url"),
		DiscordWebhookURL: cctx.String("discord-webhook-url"),
		Logger:            logger,
	}
}

func openStore(dburl string, maxConns int, logger *slog.Logger) (*dbstore.DBStore, error) {
	db, err := cliutil.SetupDatabase(dburl, maxConns, logger)
	if err != nil {
		return nil, err
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	store := dbstore.NewDBStore(db, logger)
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return store, nil
}

// Wires up every component. The returned context-bound reddit client lives as long as ctx.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(config.DatabaseURL, config.MaxDBConnections, logger)
	if err != nil {
		return nil, err
	}

	rc, err := reddit.NewClient(ctx, config.Reddit, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing reddit client: %w", err)
	}

	var counters countstore.CountStore
	var cache cachestore.StatusCache
	var flags flagstore.FlagStore
	var q queue.Queue
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(ctx).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		counters = countstore.NewRedisCountStoreFromClient(rdb)
		cache = cachestore.NewRedisStatusCacheFromClient(rdb, 30*time.Minute)
		flags = flagstore.NewRedisFlagStoreFromClient(rdb)

		rq, err := queue.NewRedisQueueFromClient(ctx, rdb, consumerName(), logger)
		if err != nil {
			return nil, fmt.Errorf("initializing redis queue: %w", err)
		}
		q = rq
	} else {
		logger.Warn("redis not configured, using in-process queue and counters")
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemStatusCache(5_000, 30*time.Minute)
		flags = flagstore.NewMemFlagStore()
		q = queue.NewMemQueue()
	}

	workers := config.SimilarityWorkers
	if workers <= 0 {
		workers = 1
	}
	dispatcher := visual.NewDispatcher(store, logger, workers)

	var notifiers []engine.Notifier
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, &engine.SlackNotifier{SlackWebhookURL: config.SlackWebhookURL})
	}
	if config.DiscordWebhookURL != "" {
		notifiers = append(notifiers, &engine.DiscordNotifier{WebhookURL: config.DiscordWebhookURL, Username: "AnimewallpaperBot"})
	}

	eng := engine.Engine{
		Logger:          logger,
		Store:           store,
		Settings:        settings.NewLoader(store, logger),
		Platform:        rc,
		Similarity:      dispatcher,
		Rules:           rules.DefaultRules(),
		Counters:        counters,
		Cache:           cache,
		Flags:           flags,
		Notifiers:       notifiers,
		PollInterval:    config.PollInterval,
		RemovalQuotaDay: config.RemovalQuotaDay,
	}

	s := &Server{
		logger:     logger,
		store:      store,
		reddit:     rc,
		engine:     &eng,
		dispatcher: dispatcher,
		queue:      q,
		rdb:        rdb,
	}
	return s, nil
}

// Redis consumer group member name, unique per process. Messages left pending by an earlier process are reclaimed once idle.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "awb"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func (s *Server) Refresher() *settings.Refresher {
	return &settings.Refresher{
		Wiki:   s.reddit,
		Store:  s.store,
		Logger: s.logger.With("component", "settings"),
	}
}

func (s *Server) Scheduler() *consumer.Scheduler {
	return &consumer.Scheduler{
		Queue:     s.queue,
		Store:     s.store,
		Lister:    s.reddit,
		Refresher: s.Refresher(),
		Logger:    s.logger.With("component", "scheduler"),
	}
}

func (s *Server) Consumer() *consumer.Consumer {
	return consumer.NewConsumer(s.queue, s.engine, s.logger)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (s *Server) Close() {
	if err := s.queue.Close(); err != nil {
		s.logger.Error("closing queue", "err", err)
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("closing redis client", "err", err)
		}
	}
}
