package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/frontwatch/internal/eventsource"
	"github.com/tinytelemetry/frontwatch/internal/logging"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/frontwatch/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Frontwatch - Front-end Monitoring Collector\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "frontwatch")

	v := viper.New()
	v.SetEnvPrefix("FRONTWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("port", defaultPort)
	v.SetDefault("db-path", filepath.Join(dataDir, "frontwatch.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("max-body-size", defaultMaxBodySize)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "ingest.journal"))
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("event-retention", defaultEventRetention)
	v.SetDefault("tcp-enabled", false)
	v.SetDefault("tcp-addr", eventsource.DefaultTCPAddr)
	v.SetDefault("tcp-app", model.DefaultApp)
	v.SetDefault("artifact-dir", filepath.Join(dataDir, "sourcemaps"))
	v.SetDefault("artifact-name", defaultArtifactName)
	v.SetDefault("artifact-max-size", defaultArtifactMaxSize)
	v.SetDefault("validate-artifacts", true)
	v.SetDefault("restore-concurrency", defaultRestoreConcurrency)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)
	v.SetDefault("nats-subject-prefix", defaultNATSSubjectPrefix)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("log-file", logging.DefaultFilePath())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "frontwatch", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)
	cfg.ArtifactDir = expandHome(home, cfg.ArtifactDir)
	cfg.SourceRoot = expandHome(home, cfg.SourceRoot)
	cfg.BackupLocalDir = expandHome(home, cfg.BackupLocalDir)
	cfg.LogFile = expandHome(home, cfg.LogFile)

	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.Port))
	}
	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
