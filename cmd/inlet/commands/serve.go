package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inlethq/inlet/config"
	"github.com/inlethq/inlet/crm"
	"github.com/inlethq/inlet/db"
	"github.com/inlethq/inlet/ingest"
	"github.com/inlethq/inlet/internal/httpclient"
	"github.com/inlethq/inlet/internal/util"
	"github.com/inlethq/inlet/logger"
	"github.com/inlethq/inlet/queue"
	"github.com/inlethq/inlet/schedule"
	"github.com/inlethq/inlet/server"
)

// ServeCmd starts the full engine: HTTP server, worker pool, and
// schedule ticker, over one SQLite database.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := logger.Logger

		conn, err := db.OpenWithMigrations(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pipelines := ingest.NewPipelineStore(conn, log)
		mappings := ingest.NewMappingStore(conn, log)
		logs := ingest.NewLogStore(conn, log)

		manager := crm.NewManager(conn, log)
		resolver := ingest.NewResolver(manager, log)
		processor := ingest.NewProcessor(manager, resolver, log)

		client := httpclient.NewWithOptions(
			time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
			httpclient.Options{BlockPrivateIP: util.Ptr(!cfg.Fetch.AllowPrivateHosts)},
		)
		fetcher := ingest.NewFetcher(client, log)
		preprocessors := ingest.NewPreprocessorRegistry(log)

		q := queue.NewQueue(conn)
		registry := queue.NewHandlerRegistry()
		registry.Register(ingest.NewPullJobHandler(pipelines, mappings, logs, fetcher, preprocessors, processor, log))
		registry.Register(ingest.NewPushProcessJobHandler(pipelines, mappings, logs, processor, log))

		pool := queue.NewWorkerPool(ctx, q, registry, queue.WorkerPoolConfig{
			Workers:      cfg.Worker.Workers,
			PollInterval: time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
			RetryLimit:   cfg.Worker.RetryLimit,
		}, log)
		pool.Start()
		defer pool.Stop()

		schedules := schedule.NewStore(conn)
		ticker := schedule.NewTicker(ctx, schedules, q, schedule.TickerConfig{
			Interval: time.Duration(cfg.Ticker.IntervalSeconds) * time.Second,
		}, log)
		ticker.Start()
		defer ticker.Stop()

		scheduler := ingest.NewPullScheduler(pipelines, schedules, log)
		if err := scheduler.SyncAll(); err != nil {
			return err
		}

		srv := server.NewServer(pipelines, mappings, logs, q, scheduler, log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.Server.Port)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Infow("Shutting down", "signal", sig.String())
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
