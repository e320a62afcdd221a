// main package for the zonos-worker
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"github.com/KKami91/zonos-worker/internal/audio"
	"github.com/KKami91/zonos-worker/internal/config"
	"github.com/KKami91/zonos-worker/internal/core"
	"github.com/KKami91/zonos-worker/internal/handler"
	"github.com/KKami91/zonos-worker/internal/job"
	"github.com/KKami91/zonos-worker/internal/model"
	"github.com/KKami91/zonos-worker/internal/objectstore"
	"github.com/KKami91/zonos-worker/internal/server"
	"github.com/KKami91/zonos-worker/internal/worker"
)

var (
	// ErrNoTransport indicates a configuration with neither NATS nor HTTP enabled.
	ErrNoTransport = errors.New("no transport configured: set nats.url or enable http")
	// ErrNATSStorageWithoutNATS indicates NATS storage without a NATS connection.
	ErrNATSStorageWithoutNATS = errors.New("nats storage backend requires nats.url")
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "zonos-worker.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := logger.New(os.TempDir(), "zonos-worker-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.NATS.URL == "" && !cfg.HTTP.Enabled {
		return ErrNoTransport
	}

	var natsConnection *nats.Conn

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("zonos-worker"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		defer conn.Close()

		natsConnection = conn
	}

	client := model.NewClient(cfg.Model.ServiceURL, time.Duration(cfg.Model.TimeoutSeconds)*time.Second)
	loader := model.NewLoader(client, log)

	if cfg.Model.Preload {
		_, err := loader.Get(ctx, cfg.Model.DefaultType)
		if err != nil {
			return fmt.Errorf("failed to preload model: %w", err)
		}
	}

	store, err := newObjectStore(cfg.Storage, natsConnection)
	if err != nil {
		return err
	}

	jobHandler, err := handler.New(loader, store, handler.Options{
		Profile: job.Profile(cfg.Handler.Profile),
		Defaults: job.Defaults{
			Text:      cfg.Handler.DefaultText,
			Language:  cfg.Handler.DefaultLanguage,
			ModelType: cfg.Model.DefaultType,
		},
		MaxTextRunes:  cfg.Handler.MaxTextRunes,
		Quality:       audio.NewQuality(cfg.Handler.MinReferenceSeconds, cfg.Handler.MaxReferenceSeconds),
		UploadResults: cfg.Handler.UploadResults,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create job handler: %w", err)
	}

	log.System("Zonos worker initialized (backend %s, profile %s, storage %s)",
		cfg.Model.ServiceURL, cfg.Handler.Profile, cfg.Storage.Backend)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			runErr := fn(ctx)
			if runErr != nil {
				log.Error("%s stopped: %v", name, runErr)

				errMu.Lock()
				if firstErr == nil {
					firstErr = runErr
				}
				errMu.Unlock()

				cancel()
			}
		}()
	}

	if natsConnection != nil {
		natsWorker, workerErr := worker.NewNatsWorker(natsConnection, jobHandler, worker.Options{
			Subject:        cfg.NATS.JobsSubject,
			QueueGroup:     cfg.NATS.QueueGroup,
			ResultsSubject: cfg.NATS.ResultsSubject,
		}, log)
		if workerErr != nil {
			return fmt.Errorf("failed to create NATS worker: %w", workerErr)
		}

		launch("NATS worker", natsWorker.Run)
	}

	if cfg.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)

		httpServer, serverErr := server.New(jobHandler, client, server.Options{
			Workers: cfg.HTTP.Workers,
			JobTTL:  time.Duration(cfg.HTTP.JobTTLSeconds) * time.Second,
			Loaded:  loader.Loaded,
		}, log)
		if serverErr != nil {
			return fmt.Errorf("failed to create HTTP server: %w", serverErr)
		}

		defer func() {
			closeErr := httpServer.Close()
			if closeErr != nil {
				log.Warn("Failed to release HTTP worker pool: %v", closeErr)
			}
		}()

		launch("HTTP server", func(ctx context.Context) error {
			return httpServer.Run(ctx, cfg.HTTP.Addr)
		})
	}

	wg.Wait()

	log.System("Zonos worker stopped.")

	return firstErr
}

// newObjectStore returns nil when no storage backend is configured.
func newObjectStore(cfg config.StorageConfig, natsConnection *nats.Conn) (core.ObjectStore, error) {
	switch cfg.Backend {
	case config.StorageNATS:
		if natsConnection == nil {
			return nil, ErrNATSStorageWithoutNATS
		}

		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		store, err := objectstore.NewNats(jetstreamContext, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open NATS object store: %w", err)
		}

		return store, nil
	case config.StorageS3:
		store, err := objectstore.NewS3(objectstore.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open S3 object store: %w", err)
		}

		return store, nil
	default:
		return nil, nil
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
