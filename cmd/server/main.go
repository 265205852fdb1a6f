package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"intake-guard/internal/audit"
	"intake-guard/internal/config"
	"intake-guard/internal/detect"
	"intake-guard/internal/escalate"
	httpserver "intake-guard/internal/http"
	"intake-guard/internal/lang"
	"intake-guard/internal/logging"
	"intake-guard/internal/orchestrator"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}
	log := logging.NewLogger(cfg.Debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := cfg.OpenAIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY must be set")
	}
	if cfg.PostgresURL == "" {
		log.Fatal("postgres.url (INTAKE_POSTGRES_URL) must be set")
	}

	dbConn, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := dbConn.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal("failed to ping database", zap.Error(err))
	}
	cancel()
	if err := audit.Migrate(ctx, dbConn); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to ping redis", zap.Error(err))
	}

	ruleStore, err := rules.NewStore(cfg.RulesDir, log)
	if err != nil {
		log.Fatal("failed to load rule tables", zap.Error(err))
	}
	go func() {
		if err := ruleStore.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("rules watcher stopped", zap.Error(err))
		}
	}()

	backend := provider.NewOpenAIBackend(apiKey, cfg.GenerateModel, cfg.ClassifyModel)
	gateway := provider.NewGateway(backend, cfg.BreakerFailureThreshold, cfg.BreakerCooldown, log)
	classifier := provider.NewClassifier(gateway)

	sessions := session.NewRedisStore(rdb, cfg.HistoryDepth)
	normalizer := lang.NewNormalizer(gateway, cfg.TranslateTimeout, log)
	redFlags := detect.NewRedFlagDetector(ruleStore, classifier, cfg.ClassifyTimeout, log)
	safety := detect.NewSafetyClassifier(ruleStore, classifier, cfg.ClassifyTimeout, cfg.RequireProbabilisticPass, log)

	recorder := audit.NewRecorder(audit.NewPostgresSink(dbConn), log)
	defer recorder.Close()
	notifier := &escalate.LogNotifier{Log: log}

	orch := orchestrator.New(sessions, normalizer, redFlags, safety, gateway, ruleStore, notifier, recorder,
		orchestrator.Config{
			TextBudget:      cfg.TextTurnBudget,
			VoiceBudget:     cfg.VoiceTurnBudget,
			GenerateTimeout: cfg.GenerateTimeout,
		}, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpserver.NewServer(orch, sessions, gateway, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
