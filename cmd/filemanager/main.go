package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/api"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/auth"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/bus"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/config"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/database"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/ingest"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/logging"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/reconcile"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/repository"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/s3storage"
	"github.com/Cecilia-Banda/multilingual-file-manager/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "filemanager: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "filemanager",
		Short:        "File manager service",
		Long:         "filemanager runs the upload API, the processing worker, or both in one process.",
		SilenceUsage: true,
	}
	cmd.AddCommand(newAPICmd(), newWorkerCmd(), newAllCmd())
	return cmd
}

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(cmd.Context())
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the processing worker and the reconciliation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run API, worker, and sweep in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll(cmd.Context())
		},
	}
}

// deps holds everything the subcommands assemble from configuration.
type deps struct {
	cfg    *config.Config
	logger *zap.Logger

	files  ingest.FileStore
	users  api.UserStore
	blobs  ingest.BlobStore
	bus    bus.Bus
	ingest *ingest.Service
	auth   *auth.Service

	workerFiles worker.FileStore
	sweepFiles  reconcile.FileStore
	pingers     map[string]api.Pinger
	close       func()
}

// buildDeps connects Postgres, MinIO, and Redis. With allowMemory set and dev
// mode on, everything runs on in-memory stand-ins instead. Only the all
// command allows that, since the stand-ins are process-local.
func buildDeps(ctx context.Context, allowMemory bool) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, logger: logger, close: func() {}}
	d.auth = auth.NewService(cfg.JWTSecret, cfg.TokenTTL)

	if allowMemory && cfg.DevMode {
		files := repository.NewMemoryFileRepository()
		d.files = files
		d.workerFiles = files
		d.sweepFiles = files
		d.users = repository.NewMemoryUserRepository()
		d.blobs = s3storage.NewMemoryStore()
		d.bus = bus.NewMemoryBus()
		d.pingers = nil
	} else {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		files := repository.NewFileRepository(pool)
		d.files = files
		d.workerFiles = files
		d.sweepFiles = files
		d.users = repository.NewUserRepository(pool)

		store, err := s3storage.New(cfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect object storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		d.blobs = store

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rb := bus.NewRedisBus(client, logger)
		d.bus = rb

		d.pingers = map[string]api.Pinger{
			"db":    func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis": func(ctx context.Context) error { return rb.Ping(ctx) },
		}
		d.close = func() {
			_ = client.Close()
			pool.Close()
		}
	}

	d.ingest = ingest.NewService(d.files, d.blobs, d.bus, cfg.MaxFileSize, cfg.TypeAllowed, logger)
	return d, nil
}

func (d *deps) step() worker.Step {
	if d.cfg.DevMode {
		return &worker.Simulator{Delay: d.cfg.SimulatedDelay}
	}
	return &worker.Inspector{}
}

func runAPI(ctx context.Context) error {
	d, err := buildDeps(ctx, false)
	if err != nil {
		return err
	}
	defer d.close()
	defer func() { _ = d.logger.Sync() }()

	srv := api.New(d.cfg, d.ingest, d.users, d.auth, d.pingers, d.logger)
	return srv.Run(ctx)
}

func runWorker(ctx context.Context) error {
	d, err := buildDeps(ctx, false)
	if err != nil {
		return err
	}
	defer d.close()
	defer func() { _ = d.logger.Sync() }()

	proc := worker.New(d.workerFiles, d.blobs, d.bus, d.step(), d.cfg.WorkerConcurrency, d.cfg.ProcessTimeout, d.logger)
	sweep := reconcile.New(d.sweepFiles, d.bus, d.cfg.SweepInterval, d.cfg.RepublishAfter, d.cfg.FailAfter, d.logger)

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	sweep.Start(ctx)

	<-ctx.Done()
	sweep.Stop()
	drainWithTimeout(proc, 10*time.Second)
	return nil
}

func runAll(ctx context.Context) error {
	d, err := buildDeps(ctx, true)
	if err != nil {
		return err
	}
	defer d.close()
	defer func() { _ = d.logger.Sync() }()

	proc := worker.New(d.workerFiles, d.blobs, d.bus, d.step(), d.cfg.WorkerConcurrency, d.cfg.ProcessTimeout, d.logger)
	sweep := reconcile.New(d.sweepFiles, d.bus, d.cfg.SweepInterval, d.cfg.RepublishAfter, d.cfg.FailAfter, d.logger)
	srv := api.New(d.cfg, d.ingest, d.users, d.auth, d.pingers, d.logger)

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	sweep.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	err = g.Wait()

	sweep.Stop()
	drainWithTimeout(proc, 10*time.Second)
	return err
}

// drainWithTimeout waits for in-flight events but gives up eventually so a
// hung step cannot block shutdown.
func drainWithTimeout(proc *worker.Processor, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		proc.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
