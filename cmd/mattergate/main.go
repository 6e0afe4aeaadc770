package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voltwise-io/mattergate/internal/config"
	"github.com/voltwise-io/mattergate/internal/exporter"
	"github.com/voltwise-io/mattergate/internal/gateway"
	"github.com/voltwise-io/mattergate/internal/journal"
	"github.com/voltwise-io/mattergate/internal/lib/logger/sl"
	"github.com/voltwise-io/mattergate/internal/snapshot"
	"github.com/voltwise-io/mattergate/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := sl.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	log.Info("starting mattergate exporter",
		slog.String("env", cfg.Env),
		slog.String("gateway_url", cfg.Gateway.URL),
		slog.String("listen_address", cfg.HTTP.Address),
	)

	newHandle := func() supervisor.Handle {
		return gateway.NewClient(log.With(slog.String("component", "gateway")),
			cfg.Gateway.URL, cfg.Gateway.HandshakeTimeout)
	}

	sup := supervisor.New(
		log.With(slog.String("component", "supervisor")),
		newHandle,
		cfg.Supervisor.Backoff,
		cfg.Supervisor.LivenessInterval,
	)

	store := snapshot.NewStore()

	var jnl *journal.SQLiteJournal
	if cfg.Journal.Enabled {
		var err error
		jnl, err = journal.NewSQLiteJournal(log, cfg.Journal.Path, cfg.Journal.MaxAge)
		if err != nil {
			log.Error("failed to open telemetry journal", sl.Err(err))
			os.Exit(1)
		}
		log.Info("telemetry journal enabled", slog.String("path", cfg.Journal.Path))
	}

	var journalSink exporter.Journal
	if jnl != nil {
		journalSink = jnl
	}

	server := exporter.NewServer(
		log.With(slog.String("component", "exporter")),
		cfg.HTTP.Address,
		sup,
		store,
		journalSink,
		cfg.Gateway.FetchTimeout,
	)

	if jnl != nil {
		server.AddChecker(exporter.NewJournalHealthChecker(jnl.Count))
	}

	if err := server.Start(); err != nil {
		log.Error("failed to start exporter server", sl.Err(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	sup.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop exporter server", sl.Err(err))
	}

	if jnl != nil {
		if err := jnl.Close(); err != nil {
			log.Error("failed to close telemetry journal", sl.Err(err))
		}
	}

	log.Info("exporter stopped")
}
