package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/config"
	"github.com/p-blackswan/checkin-agent/internal/dedup"
	"github.com/p-blackswan/checkin-agent/internal/escalation"
	"github.com/p-blackswan/checkin-agent/internal/health"
	"github.com/p-blackswan/checkin-agent/internal/llm"
	"github.com/p-blackswan/checkin-agent/internal/metrics"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/scheduler"
	"github.com/p-blackswan/checkin-agent/internal/sentiment"
	"github.com/p-blackswan/checkin-agent/internal/server"
	slackpkg "github.com/p-blackswan/checkin-agent/internal/slack"
	"github.com/p-blackswan/checkin-agent/internal/store"
	"github.com/p-blackswan/checkin-agent/internal/whatsapp"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduler timezone")
	}

	instances, err := config.LoadInstances(cfg.InstancesFile, cfg.DefaultInstance)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load instances")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Int("instances", len(instances.All())).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("classifier_enabled", cfg.ClassifierEnabled()).
		Bool("scheduler_enabled", cfg.SchedulerEnabled).
		Msg("starting check-in agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	guard, err := dedup.New(cfg.DedupTTL, dedup.WithCapacity(cfg.DedupCapacity))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create dedup guard")
	}

	m := metrics.New()
	engine := sentiment.NewEngine(newClassifier(cfg, logger), cfg.ClassifierTimeout, logger,
		sentiment.WithObserver(func(src sentiment.Source) { m.RecordClassification(string(src)) }))

	waClient := whatsapp.NewClient(cfg.WhatsAppAPIBase, func(instanceID string) (whatsapp.Account, bool) {
		inst, ok := instances.ByID(instanceID)
		if !ok || inst.PhoneNumberID == "" {
			return whatsapp.Account{}, false
		}
		return whatsapp.Account{PhoneNumberID: inst.PhoneNumberID, AccessToken: inst.Token(cfg.WhatsAppToken)}, true
	}, logger)

	var notifier escalation.Notifier = escalation.NewLogNotifier(logger)
	if cfg.EscalationWebhookURL != "" {
		notifier = escalation.NewMultiNotifier(notifier, escalation.NewSlackWebhookNotifier(cfg.EscalationWebhookURL, logger))
	}
	alerts, err := escalation.New(notifier, logger, escalation.WithCooldown(cfg.EscalationCooldown))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create escalator")
	}

	checkin := agent.New(db, guard, engine, logger,
		agent.WithSender(models.ChannelWhatsApp, waClient),
		agent.WithMetrics(m),
		agent.WithEscalator(alerts),
		agent.WithLocation(loc),
	)

	checker := health.NewChecker(logger)
	checker.Register("database", health.Ping(db.Ping))

	var wg sync.WaitGroup

	// Slack Socket Mode (optional)
	if cfg.SlackEnabled() {
		mw := slackpkg.NewMiddleware(logger, 10, time.Minute)
		handler := slackpkg.NewHandler(cfg.SlackInstanceID, checkin, logger, mw)
		app, err := slackpkg.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, logger, handler)
		if err != nil {
			logger.Error().Err(err).Msg("failed to init Slack app (non-fatal)")
		} else {
			checkin.SetSender(models.ChannelSlack, slackpkg.NewSender(app.API(), logger))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("Slack Socket Mode error")
				}
			}()
			logger.Info().Str("instance_id", cfg.SlackInstanceID).Msg("Slack Socket Mode enabled")
		}
	}

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched, err = scheduler.New(scheduler.Config{
			Specs: scheduler.Specs{
				Morning:    cfg.MorningCron,
				Midday:     cfg.MiddayCron,
				Evening:    cfg.EveningCron,
				Weekly:     cfg.WeeklyCron,
				Redelivery: cfg.RedeliveryCron,
				Retention:  cfg.RetentionCron,
			},
			Location: loc,
			Workers:  cfg.SchedulerWorkers,
		}, checkin, db, logger, scheduler.WithMetrics(m))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create scheduler")
		}
		checker.Register("scheduler", health.Ping(sched.Check))
		sched.Start()
	}

	parser := whatsapp.NewParser(func(phoneNumberID string) (string, bool) {
		inst, ok := instances.ByPhoneNumberID(phoneNumberID)
		return inst.ID, ok
	}, cfg.DefaultInstance, cfg.MaxMessageAge, nil)

	deps := server.Deps{
		Agent:   checkin,
		Repo:    db,
		Parser:  parser,
		Health:  checker,
		Metrics: m,
		Started: time.Now(),
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		Auth: server.AuthConfig{
			Mode:      strings.ToLower(cfg.AuthMode),
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
			JWTIssuer: cfg.JWTIssuer,
		},
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
		VerifyToken: cfg.WhatsAppVerifyToken,
		AppSecret:   cfg.WhatsAppAppSecret,
	}, deps, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("scheduler did not stop in time")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("check-in agent stopped")
}

// newClassifier builds the remote sentiment classifier, or nil when none is
// configured so the engine uses its keyword fallback.
func newClassifier(cfg *config.Config, logger zerolog.Logger) sentiment.Classifier {
	if !cfg.ClassifierEnabled() {
		logger.Info().Msg("no sentiment classifier configured, using keyword fallback")
		return nil
	}
	opts := []llm.Option{llm.WithLogger(logger)}
	if cfg.ClassifierModel != "" {
		opts = append(opts, llm.WithModel(cfg.ClassifierModel))
	}

	var provider llm.Provider
	switch strings.ToLower(cfg.ClassifierProvider) {
	case "anthropic":
		provider = llm.NewAnthropicProvider(cfg.ClassifierAPIKey, opts...)
	default:
		if cfg.ClassifierBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.ClassifierBaseURL))
		}
		provider = llm.NewChatCompletionsProvider(cfg.ClassifierAPIKey, opts...)
	}
	return sentiment.NewLLMClassifier(provider, logger)
}
