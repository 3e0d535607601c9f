package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/threatscope/internal/adapter/handler"
	"github.com/hive-corporation/threatscope/internal/adapter/httpclient"
	"github.com/hive-corporation/threatscope/internal/adapter/llm"
	"github.com/hive-corporation/threatscope/internal/adapter/notifier"
	"github.com/hive-corporation/threatscope/internal/adapter/provider"
	"github.com/hive-corporation/threatscope/internal/adapter/repository"
	"github.com/hive-corporation/threatscope/internal/adapter/taxonomy"
	"github.com/hive-corporation/threatscope/internal/cache"
	"github.com/hive-corporation/threatscope/internal/config"
	"github.com/hive-corporation/threatscope/internal/core/correlation"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(os.Getenv("THREATSCOPE_CONFIG"))
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	correlation.InitMetrics()
	log.Info("✅ Prometheus metrics initialized")

	// Report cache
	var store cache.Store
	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = cache.NewRedisStore(client)
		log.WithField("addr", cfg.RedisAddr).Info("✅ Redis report cache enabled")
	default:
		store = cache.NewMemoryStore(time.Minute)
		log.Info("✅ In-memory report cache enabled")
	}
	reportCache := cache.New(store, log)
	defer reportCache.Close()

	// Sightings database
	dbPool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer dbPool.Close()
	repo := repository.NewPostgresRepository(dbPool)

	// Intelligence connectors
	clientConfig := httpclient.DefaultConfig()
	connectors := []ports.Connector{
		provider.NewOTXConnector(httpclient.New("alienvault-otx", 10*time.Second, clientConfig, log), "", cfg.OTXAPIKey),
		provider.NewURLHausConnector(httpclient.New("abusech-urlhaus", 10*time.Second, clientConfig, log), ""),
		provider.NewAbuseIPDBConnector(httpclient.New("abuseipdb", 10*time.Second, clientConfig, log), "", cfg.AbuseIPDBAPIKey),
		provider.NewLocalDBConnector(repo),
	}

	// Reasoning backend
	reasoner := llm.NewReasoner(log)
	var engineReasoner ports.Reasoner
	if reasoner.IsEnabled() {
		engineReasoner = reasoner
		log.Info("✅ Reasoning backend enabled")
	} else {
		log.Warn("⚠️  Reasoning backend disabled (set REASONER_API_KEY)")
	}

	// Correlation pipeline
	kb := taxonomy.NewAttackKB()
	rules, err := correlation.NewRuleEngine(cfg.RulesPath)
	if err != nil {
		log.Fatalf("❌ Failed to load recommendation rules: %v", err)
	}
	engine := correlation.NewEngine(
		correlation.NewAggregator(connectors, engineReasoner, log),
		correlation.NewMapper(kb, cfg.FuzzyThreshold),
		correlation.NewScorer(cfg.SourceWeights, reasoner.Name()),
		rules,
		kb,
		reportCache,
		correlation.EngineConfig{GatherTimeout: cfg.GatherTimeout, CacheTTL: cfg.CacheTTL},
		log,
	)

	// Slack notifier (optional)
	var slackNotifier *notifier.SlackNotifier
	if cfg.SlackBotToken != "" {
		slackNotifier = notifier.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, cfg.SlackMentionTeam, cfg.SlackMinScore)
		log.Info("✅ Slack notifier enabled")
	} else {
		log.Warn("⚠️  Slack notifier disabled (no SLACK_BOT_TOKEN)")
	}

	restHandler := handler.NewRestHandler(engine, kb, slackNotifier, log)

	srv := &http.Server{
		Addr:         ":" + cfg.ListenPort,
		Handler:      restHandler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("🚀 ThreatScope API listening on port %s", cfg.ListenPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}
	log.Info("✅ Server stopped gracefully")
}
