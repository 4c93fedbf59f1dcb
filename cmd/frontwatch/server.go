package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/frontwatch/internal/artifact"
	"github.com/tinytelemetry/frontwatch/internal/backup"
	"github.com/tinytelemetry/frontwatch/internal/duckdb"
	"github.com/tinytelemetry/frontwatch/internal/eventsource"
	"github.com/tinytelemetry/frontwatch/internal/forward"
	"github.com/tinytelemetry/frontwatch/internal/httpserver"
	"github.com/tinytelemetry/frontwatch/internal/ingest"
	"github.com/tinytelemetry/frontwatch/internal/journal"
	"github.com/tinytelemetry/frontwatch/internal/logging"
	"github.com/tinytelemetry/frontwatch/internal/model"
	"github.com/tinytelemetry/frontwatch/internal/restore"
)

// runServer starts the collector: event store, ingest pipeline, artifact
// store and the HTTP API.
func runServer(cfg appConfig) error {
	logger, cleanupLogger := configureRuntimeLogger(cfg)
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Open local ingest journal for crash-safe replay and durable buffering.
	var ingestJournal *journal.Journal
	if cfg.JournalEnabled {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
	}

	bufferConf := duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Logger:         logger,
	}
	if ingestJournal != nil {
		bufferConf.Journal = ingestJournal
	}
	insertBuffer := duckdb.NewInsertBuffer(store, bufferConf)
	defer insertBuffer.Stop()

	if ingestJournal != nil {
		if err := replayUncommittedJournal(ingestJournal, insertBuffer, logger); err != nil {
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
	}

	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.EventRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactDir, cfg.ArtifactName)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	if cfg.ArtifactMaxSize > 0 {
		artifacts.SetMaxSize(cfg.ArtifactMaxSize)
	}

	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		ArtifactDir:    cfg.ArtifactDir,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	var forwarders []ingest.Forwarder
	if cfg.NATSURL != "" {
		fwd, err := forward.Connect(forward.Config{
			URL:           cfg.NATSURL,
			Token:         cfg.NATSToken,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			Logger:        logger,
		})
		if err != nil {
			// Forwarding is optional; ingest keeps working without it.
			logger.Warn("nats forwarder disabled", "error", err)
		} else {
			defer fwd.Close()
			forwarders = append(forwarders, fwd)
		}
	}

	processor := ingest.NewProcessor(insertBuffer, logger, forwarders...)
	restorer := newRestorer(cfg, artifacts, logger)

	apiServer := httpserver.NewServer(httpserver.Config{
		Addr:              cfg.Addr,
		MaxBodySize:       cfg.MaxBodySize,
		ValidateArtifacts: cfg.ValidateArtifacts,
		Logger:            logger,
	}, httpserver.Deps{
		Processor: processor,
		Artifacts: artifacts,
		Restorer:  restorer,
		Events:    store,
		Audit:     store,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	var tcpSource *eventsource.TCPSource
	if cfg.TCPEnabled {
		tcpSource = eventsource.NewTCPSource(cfg.TCPAddr, eventsource.Config{Logger: logger})
		if err := tcpSource.Start(); err != nil {
			return fmt.Errorf("failed to start TCP ingest: %w", err)
		}
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	printStartupBanner(cfg, len(forwarders) > 0)
	logger.Info("server started", "addr", cfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return apiServer.Stop()
	})

	if tcpSource != nil {
		g.Go(func() error {
			ingestTCP(gctx, tcpSource, processor, cfg.TCPApp, logger)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tcpSource.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func configureRuntimeLogger(cfg appConfig) (*slog.Logger, func()) {
	w, closeFn, err := logging.OpenFile(cfg.LogFile)
	logger := logging.New(w, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		logger.Warn("log file unavailable, logging to stderr", "path", cfg.LogFile, "error", err)
	}
	logging.SetDefault(logger)
	return logger, closeFn
}

// replayUncommittedJournal feeds records that were journaled but never
// flushed back through the insert buffer. They keep their journal sequence
// so the buffer commits them once stored.
func replayUncommittedJournal(j *journal.Journal, buf *duckdb.InsertBuffer, logger *slog.Logger) error {
	replayed := 0
	if err := j.Replay(func(seq uint64, record *model.EventRecord) error {
		copied := *record
		buf.AddJournaled(seq, &copied)
		replayed++
		return nil
	}); err != nil {
		return err
	}
	if replayed > 0 {
		logger.Info("ingest journal replayed", "records", replayed)
	}
	return nil
}

func printStartupBanner(cfg appConfig, forwarding bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦═╗╔═╗╔╗╔╔╦╗╦ ╦╔═╗╔╦╗╔═╗╦ ╦
    ╠╣ ╠╦╝║ ║║║║ ║ ║║║╠═╣ ║ ║  ╠═╣
    ╚  ╩╚═╚═╝╝╚╝ ╩ ╚╩╝╩ ╩ ╩ ╚═╝╩ ╩`)

	status := func(enabled bool, label, value string) string {
		if enabled {
			return fmt.Sprintf("    %s  %-14s %s", check, label, value)
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{
		"",
		logo,
		"    " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Gateway"),
		"",
		status(true, "HTTP API", cyan.Render(cfg.Addr)),
		status(true, "Metrics", cyan.Render(cfg.Addr+"/metrics")),
		status(cfg.TCPEnabled, "TCP Ingest", cyan.Render(cfg.TCPAddr)),
		status(forwarding, "NATS", cyan.Render(cfg.NATSURL)),
		"",
		bold.Render("    Storage"),
		"",
		status(true, "Events", dim.Render(shortenPath(cfg.DBPath))),
		status(cfg.JournalEnabled, "Journal", dim.Render(shortenPath(cfg.JournalPath))),
		status(true, "Sourcemaps", dim.Render(shortenPath(cfg.ArtifactDir))),
		status(cfg.BackupEnabled, "Snapshots", dim.Render(shortenPath(cfg.BackupLocalDir))),
		"",
		bold.Render("    Config"),
		"",
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, status(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}
	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// ingestTCP decodes events arriving on the TCP source until it closes.
// The insert buffer does the batching, so each event is processed as it
// is decoded.
func ingestTCP(ctx context.Context, src *eventsource.TCPSource, processor *ingest.Processor, app string, logger *slog.Logger) {
	skipped := eventsource.Decode(ctx, src.Lines(), logger, func(e model.Event) {
		if _, err := processor.ProcessBatch(ctx, app, ingest.SourceTCP, []model.Event{e}); err != nil {
			logger.Error("tcp ingest failed", "type", e.Type, "error", err)
		}
	})
	if skipped > 0 {
		logger.Warn("tcp ingest skipped malformed values", "values", skipped)
	}
}

func newRestorer(cfg appConfig, artifacts *artifact.Store, logger *slog.Logger) *restore.Restorer {
	return restore.New(restore.Config{
		Artifacts:   artifacts,
		SourceRoot:  cfg.SourceRoot,
		Concurrency: cfg.RestoreConcurrency,
		Logger:      logger,
	})
}
