package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carewire/nursecall-platform/cmd/mainconfig"
	"github.com/carewire/nursecall-platform/internal/api/router"
	"github.com/carewire/nursecall-platform/internal/archive"
	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/internal/calls"
	appconfig "github.com/carewire/nursecall-platform/internal/config"
	"github.com/carewire/nursecall-platform/internal/dashboard"
	"github.com/carewire/nursecall-platform/internal/dispatch"
	"github.com/carewire/nursecall-platform/internal/flags"
	"github.com/carewire/nursecall-platform/internal/http/handlers"
	"github.com/carewire/nursecall-platform/internal/livefeed"
	"github.com/carewire/nursecall-platform/internal/notify"
	"github.com/carewire/nursecall-platform/internal/observability/metrics"
	"github.com/carewire/nursecall-platform/internal/patients"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/internal/summary"
	"github.com/carewire/nursecall-platform/internal/telephony"
	"github.com/carewire/nursecall-platform/internal/webhooks"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

func main() {
	// Local development convenience; the file is absent in deployed
	// environments and the error is ignored.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting nursecall-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Storage.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The patients repository runs on database/sql.
	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	referralRepo := referrals.NewPostgresRepository(pool)
	flagRepo := flags.NewPostgresRepository(pool)
	callRepo := calls.NewPostgresRepository(pool)
	patientRepo := patients.NewRepository(sqlDB)
	liveStore := calls.NewLiveStore(rdb)

	registry := prometheus.NewRegistry()
	callMetrics := metrics.NewCallMetrics(registry)

	contexts := bridge.NewContextStore(cfg.CallContextTTL)

	// The telephony client is optional in development: without provider
	// credentials the call-placement endpoints answer 503 and the bridge
	// runs without a terminator.
	var (
		initiator  *calls.Initiator
		terminator bridge.CallTerminator
	)
	phone, err := telephony.NewClient(telephony.ClientConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioBaseURL,
		Logger:     logger,
	})
	switch {
	case err != nil:
		logger.Warn("telephony client disabled", "error", err)
	case cfg.PublicBaseURL == "":
		logger.Warn("telephony client disabled: PUBLIC_BASE_URL not set")
	default:
		terminator = phone
		initiator = calls.NewInitiator(calls.InitiatorParams{
			Placer:    phone,
			Slots:     referralRepo,
			Contexts:  contexts,
			Repo:      callRepo,
			Live:      liveStore,
			AnswerURL: cfg.PublicBaseURL + "/voice/answer",
			Metrics:   callMetrics,
			Logger:    logger,
		})
	}

	sink := calls.NewOutcomeSink(referralRepo, flagRepo, liveStore, callRepo, logger)

	bus := livefeed.NewBus(logger)
	livefeedHandler := livefeed.NewHandler(bus, logger)

	mediaStream := handlers.NewMediaStreamHandler(handlers.MediaStreamParams{
		Dialer: handlers.AgentDialerFunc(func(ctx context.Context) (bridge.AgentConn, error) {
			return bridge.DialAgent(ctx, bridge.AgentSessionConfig{
				BaseURL: cfg.AgentBaseURL,
				AgentID: cfg.AgentID,
				APIKey:  cfg.AgentAPIKey,
			})
		}),
		Contexts:   contexts,
		Extractor:  bridge.NewExtractor(cfg.OutcomeStrategy),
		Sink:       sink,
		Terminator: terminator,
		Events:     bus,
		Metrics:    callMetrics,
		Logger:     logger,
		Bridge: bridge.Config{
			TrailingSpeechDelay: cfg.TrailingSpeechDelay,
			PostQuietGraceDelay: cfg.PostQuietGraceDelay,
			Policy:              bridge.ParseTerminationPolicy(cfg.TerminationPolicy),
			InboundTrack:        bridge.InboundTrack,
			MaxCallDuration:     cfg.MaxCallDuration,
		},
	})

	var voiceHandler *handlers.VoiceHandler
	if cfg.PublicBaseURL != "" {
		voiceHandler = handlers.NewVoiceHandler(cfg.PublicBaseURL, logger)
	}

	// Nurse alert email.
	var emailSender notify.EmailSender
	switch {
	case cfg.EmailProvider == "ses":
		emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
	case cfg.EmailProvider == "sendgrid" && cfg.SendGridAPIKey != "":
		emailSender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
	default:
		logger.Warn("email sending disabled, using stub sender", "provider", cfg.EmailProvider)
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(emailSender, cfg.NurseAlertEmail, logger)

	// Call summaries: Bedrock primary, Gemini fallback when configured.
	var llm summary.LLMClient = summary.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	if cfg.GeminiAPIKey != "" {
		gemini, err := summary.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			llm = summary.NewFallbackLLMClient(llm, gemini, logger)
		}
	}
	summarizer := summary.NewService(summary.ServiceParams{
		LLM:     llm,
		Writer:  callRepo,
		ModelID: cfg.BedrockModelID,
		Logger:  logger,
	})

	var archiver webhooks.Archiver
	if cfg.TranscriptBucket != "" {
		archiver = transcriptArchiver{
			store: archive.NewStore(s3.NewFromConfig(awsCfg), cfg.TranscriptBucket, logger),
		}
	}

	// Post-call webhooks.
	var verifier webhooks.SignatureVerifier
	if cfg.AgentWebhookSecret != "" {
		verifier = webhooks.NewHMACVerifier(cfg.AgentWebhookSecret, cfg.WebhookMaxSkew)
	} else {
		if cfg.Env == "production" {
			logger.Error("AGENT_WEBHOOK_SECRET is required in production")
			os.Exit(1)
		}
		logger.Warn("webhook signature verification disabled")
		verifier = webhooks.AlwaysPassVerifier{}
	}
	processor := webhooks.NewProcessor(webhooks.ProcessorParams{
		Calls:       callRepo,
		Rescheduler: referralRepo,
		Flags:       flagRepo,
		Notifier:    notifier,
		Archiver:    archiver,
		Summarizer:  summarizer,
		Metrics:     callMetrics,
		Logger:      logger,
	})
	webhookHandler := webhooks.NewHandler(webhooks.HandlerConfig{
		Verifier:  verifier,
		Tracker:   webhooks.NewProcessedStore(pool),
		Processor: processor,
		Metrics:   callMetrics,
		Logger:    logger,
	})

	// Outbound-call dispatch. The memory queue keeps everything in-process
	// for development; production publishes to SQS and the call-worker
	// binary consumes.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var dispatcher referrals.CallDispatcher
	if cfg.UseMemoryQueue {
		queue := dispatch.NewMemoryQueue(64)
		dispatcher = dispatch.NewPublisher(queue, nil, logger)
		if initiator != nil {
			worker := dispatch.NewWorker(initiator, queue, nil, logger,
				dispatch.WithWorkerCount(cfg.WorkerCount))
			go worker.Start(workerCtx)
		} else {
			logger.Warn("memory queue has no consumer: telephony client disabled")
		}
	} else {
		queue := dispatch.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.CallQueueURL)
		jobs := dispatch.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.CallJobsTable, logger)
		dispatcher = dispatch.NewPublisher(queue, jobs, logger)
	}

	dashboardHandler := dashboard.NewHandler(dashboard.HandlerConfig{
		Referrals: referralRepo,
		Flags:     flagRepo,
		Calls:     callRepo,
		Gatherer:  registry,
		Logger:    logger,
	})

	routerCfg := &router.Config{
		Logger: logger,

		VoiceHandler:   voiceHandler,
		MediaStream:    mediaStream,
		WebhookHandler: webhookHandler,
		Livefeed:       livefeedHandler,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		ReferralsHandler: referrals.NewHandler(referralRepo, dispatcher, logger),
		FlagsHandler:     flags.NewHandler(flagRepo, logger),
		CallsHandler:     calls.NewHandler(callRepo, initiator, liveStore, logger),
		PatientsHandler:  patients.NewHandler(patientRepo, logger),
		Dashboard:        dashboardHandler,

		NurseJWTSecret:     cfg.NurseJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// transcriptArchiver bridges the webhook processor's transcript shape to the
// S3 archive store.
type transcriptArchiver struct {
	store *archive.Store
}

func (a transcriptArchiver) ArchiveCall(ctx context.Context, callSID, outcome string, lines []webhooks.TranscriptLine) error {
	archived := make([]archive.TranscriptLine, len(lines))
	for i, line := range lines {
		archived[i] = archive.TranscriptLine{Role: line.Role, Message: line.Message}
	}
	return a.store.ArchiveCall(ctx, callSID, outcome, archived)
}
