package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/carewire/nursecall-platform/cmd/mainconfig"
	"github.com/carewire/nursecall-platform/internal/bridge"
	"github.com/carewire/nursecall-platform/internal/calls"
	appconfig "github.com/carewire/nursecall-platform/internal/config"
	"github.com/carewire/nursecall-platform/internal/dispatch"
	"github.com/carewire/nursecall-platform/internal/referrals"
	"github.com/carewire/nursecall-platform/internal/telephony"
	"github.com/carewire/nursecall-platform/pkg/logging"
)

// The call worker consumes outbound-call jobs from SQS and places them at the
// telephony provider. It runs alongside the API server, which seeds the jobs
// when a nurse triggers a reschedule call.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("call worker requires SQS; unset USE_MEMORY_QUEUE")
		os.Exit(1)
	}
	if cfg.PublicBaseURL == "" {
		logger.Error("PUBLIC_BASE_URL is required: the provider fetches the answer URL from it")
		os.Exit(1)
	}

	ctx := context.Background()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	phone, err := telephony.NewClient(telephony.ClientConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		BaseURL:    cfg.TwilioBaseURL,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create telephony client", "error", err)
		os.Exit(1)
	}

	initiator := calls.NewInitiator(calls.InitiatorParams{
		Placer:    phone,
		Slots:     referrals.NewPostgresRepository(pool),
		Contexts:  bridge.NewContextStore(cfg.CallContextTTL),
		Repo:      calls.NewPostgresRepository(pool),
		Live:      calls.NewLiveStore(rdb),
		AnswerURL: cfg.PublicBaseURL + "/voice/answer",
		Logger:    logger,
	})

	queue := dispatch.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.CallQueueURL)
	jobStore := dispatch.NewJobStore(dynamodb.NewFromConfig(awsConfig), cfg.CallJobsTable, logger)

	worker := dispatch.NewWorker(
		initiator,
		queue,
		jobStore,
		logger,
		dispatch.WithWorkerCount(cfg.WorkerCount),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker.Start(workerCtx)
	logger.Info("call worker started", "workers", cfg.WorkerCount, "queue", cfg.CallQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down call worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("call worker stopped")
	case <-doneCtx.Done():
		logger.Error("call worker shutdown timed out", "error", doneCtx.Err())
	}
}
