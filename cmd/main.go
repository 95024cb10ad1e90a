package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/projectpulse/internal/alert"
	"github.com/projectpulse/internal/api"
	"github.com/projectpulse/internal/cache"
	"github.com/projectpulse/internal/config"
	"github.com/projectpulse/internal/engine"
	"github.com/projectpulse/internal/extractor"
	"github.com/projectpulse/internal/logger"
	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/notify"
	"github.com/projectpulse/internal/scheduler"
	"github.com/projectpulse/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Initialize configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logr.Sync()

	gin.SetMode(cfg.Server.Mode)

	// Initialize storage
	st, err := openStore(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	policies, err := policySource(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to load policy", zap.Error(err))
	}

	var scores cache.ScoreCache = cache.Noop{}
	if cfg.Redis.Enabled {
		rdb := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		scores = cache.NewRedisCache(rdb, cfg.Redis.TTL, logr)
	}

	dispatcher, err := newDispatcher(cfg, logr)
	if err != nil {
		logr.Fatal("Failed to initialize notifiers", zap.Error(err))
	}
	defer dispatcher.Close()

	eng := engine.New(st, policies, logr, engine.Options{
		Extractor: extractor.Config{
			ProductivityWindow: cfg.Extractor.ProductivityWindow,
			ActivityWindow:     cfg.Extractor.ActivityWindow,
		},
		Retry: engine.RetryPolicy{
			MaxAttempts: cfg.Persistence.MaxAttempts,
			BaseBackoff: cfg.Persistence.BaseBackoff,
			MaxBackoff:  cfg.Persistence.MaxBackoff,
		},
		Cache:           scores,
		Events:          dispatcher,
		DeliveryTimeout: cfg.Notify.DeliveryTimeout,
	})

	states := make([]models.ProjectState, 0, len(cfg.Scheduler.States))
	for _, s := range cfg.Scheduler.States {
		state := models.ProjectState(s)
		if !state.IsValid() {
			logr.Fatal("Invalid scheduler state", zap.String("state", s))
		}
		states = append(states, state)
	}

	sched := scheduler.New(eng, st, scheduler.Config{
		Interval:          cfg.Scheduler.Interval,
		Workers:           cfg.Scheduler.Workers,
		EvaluationTimeout: cfg.Scheduler.EvaluationTimeout,
		States:            states,
	}, logr)
	sched.Start(context.Background())

	server := api.NewServer(api.Deps{
		Store:        st,
		Engine:       eng,
		Scheduler:    sched,
		Policies:     policies,
		Cache:        scores,
		JWTSecret:    cfg.Auth.JWTSecret,
		Logger:       logr,
		ReportStates: states,
	})

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			logr.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logr.Info("projectpulse is running",
		zap.Int("port", cfg.Server.Port),
		zap.Duration("interval", cfg.Scheduler.Interval),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Int("notifiers", dispatcher.Sinks()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Running cycles are cancelled and counted as abandoned.
	sched.Stop()
	logr.Info("Shutdown complete")
}

func openStore(cfg *config.Config, logr *zap.Logger) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		logr.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(cfg.Database.Path, cfg.Database.OpTimeout, logr)
}

func policySource(cfg *config.Config, logr *zap.Logger) (alert.PolicySource, error) {
	if cfg.Policy.Path == "" {
		logr.Info("Using built-in policy")
		return alert.StaticSource{Policy: alert.DefaultPolicy()}, nil
	}
	return alert.NewFileSource(cfg.Policy.Path, logr)
}

func newDispatcher(cfg *config.Config, logr *zap.Logger) (*notify.Dispatcher, error) {
	n := cfg.Notify
	var sinks []notify.Notifier

	if n.Slack.Enabled {
		sinks = append(sinks, notify.NewSlackNotifier(n.Slack.Token, n.Slack.Channel))
	}
	if n.Email.Enabled {
		sinks = append(sinks, notify.NewEmailNotifier(n.Email.SMTPHost, n.Email.SMTPPort, n.Email.From, n.Email.Password, n.Email.ToReceivers))
	}
	if n.Webhook.Enabled {
		sinks = append(sinks, notify.NewWebhookNotifier(n.Webhook.URL, n.Webhook.Timeout))
	}
	if n.AMQP.Enabled {
		amqpSink, err := notify.NewAMQPNotifier(n.AMQP.URL, n.AMQP.Exchange, n.AMQP.RoutingKey)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, amqpSink)
	}
	if n.Kafka.Enabled {
		sinks = append(sinks, notify.NewKafkaNotifier(n.Kafka.Brokers, n.Kafka.Topic))
	}

	minSeverity := models.Severity(n.MinSeverity)
	if !minSeverity.IsValid() {
		minSeverity = models.SeverityInfo
	}
	return notify.NewDispatcher(logr.Named("notify"), minSeverity, sinks...), nil
}
