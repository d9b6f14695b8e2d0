package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sanchay-T/influencer-platform/config"
	"github.com/Sanchay-T/influencer-platform/continuation"
	"github.com/Sanchay-T/influencer-platform/queue"
	"github.com/Sanchay-T/influencer-platform/runner"
	"github.com/Sanchay-T/influencer-platform/server"
	"github.com/Sanchay-T/influencer-platform/store"
)

func main() {
	root := &cobra.Command{
		Use:   "discovery",
		Short: "Creator discovery service",
		Long:  "Asynchronous creator-discovery service: job submission, chunked provider scraping over a continuation queue, and incremental result delivery.",
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the continuation queue subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogging(cfg)
			return serve(cfg)
		},
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore, err := store.NewFactory().Create(store.Config{
		Driver:         cfg.StoreDriver,
		PostgresConfig: &store.PostgresConfig{URL: cfg.PostgresURL},
	})
	if err != nil {
		return fmt.Errorf("failed to create job store: %w", err)
	}
	defer jobStore.Close()

	pubsub, err := queue.NewPubSubClient(
		cfg.Dapr.PubSubComponent,
		cfg.Dapr.ContinuationTopic,
		cfg.SelfURL+"/continuation",
		cfg.Dapr.AppPort,
	)
	if err != nil {
		return fmt.Errorf("failed to create continuation queue client: %w", err)
	}
	defer pubsub.Close()

	verifier := continuation.NewSignatureVerifier(cfg.VerifySignatures, cfg.SigningKeyCurrent, cfg.SigningKeyNext)

	chunkRunner := runner.NewSimulatedRunner(jobStore, 10)

	handler := continuation.NewHandler(continuation.Options{
		Store:        jobStore,
		Runner:       chunkRunner,
		Publisher:    pubsub,
		Verifier:     verifier,
		StaleAfter:   cfg.ChunkStaleAfter,
		DefaultDelay: cfg.ContinuationDelay(),
	})

	pubsub.SubscribeToContinuations(func(ctx context.Context, msg queue.ContinuationMessage) error {
		return handler.HandleMessage(ctx, msg.Body.JobID)
	})
	if err := pubsub.StartServer(ctx); err != nil {
		return fmt.Errorf("failed to start continuation subscriber: %w", err)
	}

	srv := server.New(server.Options{
		Port:                 cfg.HTTPPort,
		Store:                jobStore,
		Publisher:            pubsub,
		Handler:              handler,
		JobTimeout:           cfg.JobTimeout,
		DefaultTargetResults: cfg.DefaultTargetResults,
		ContinuationDelayMs:  cfg.ContinuationDelayMs,
	})

	log.Info().
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreDriver).
		Str("signatures", verifier.Describe()).
		Str("topic", cfg.Dapr.ContinuationTopic).
		Dur("job_timeout", cfg.JobTimeout).
		Msg("Starting discovery service")

	start := time.Now()
	err = srv.Run(ctx)
	log.Info().Dur("uptime", time.Since(start)).Msg("Discovery service stopped")
	return err
}
