package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/frontwatch/internal/logging"
	"github.com/tinytelemetry/frontwatch/internal/model"
	"github.com/tinytelemetry/frontwatch/internal/reporter"
	"github.com/tinytelemetry/frontwatch/internal/reporter/cachestore"
)

var version = "dev"

var (
	cfgFile string
	v       = viper.New()
	logger  = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "frontwatch-agent",
	Short: "Frontwatch collector client",
	Long: `frontwatch-agent sends telemetry events to a frontwatch collector,
uploads source maps and restores minified stack traces.

Every flag can also be set in the config file or through the environment
with the FRONTWATCH_AGENT_ prefix, e.g. FRONTWATCH_AGENT_SERVER.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/frontwatch/agent.yml)")
	pf.String("server", fmt.Sprintf("http://localhost:%d", model.DefaultServerPort), "collector base URL")
	pf.String("app", model.DefaultApp, "application id events are reported under")
	pf.String("app-version", "", "application version stamped on events")
	pf.Duration("timeout", model.DefaultRequestTimeout, "per-request timeout")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v.SetEnvPrefix("FRONTWATCH_AGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".config", "frontwatch", "agent.yml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger = logging.New(os.Stderr, logging.ParseLevel(v.GetString("log-level")), v.GetString("log-format"))
	logging.SetDefault(logger)
	return nil
}

// apiURL joins the collector base URL with path.
func apiURL(path string) (string, error) {
	base := strings.TrimRight(v.GetString("server"), "/")
	u, err := url.Parse(base + path)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", v.GetString("server"))
	}
	return u.String(), nil
}

// reportEndpoint is the report URL with the app id in the query string.
func reportEndpoint() (string, error) {
	raw, err := apiURL("/api/report")
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	q.Set("app", v.GetString("app"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// reporterFlags registers the delivery flags shared by commands that run
// a reporter.
func reporterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("batch-size", model.DefaultBatchSize, "events per batch")
	f.Duration("flush-interval", model.DefaultFlushInterval, "timer flush interval")
	f.Int("max-retries", model.DefaultMaxRetries, "failed deliveries before a batch is dropped")
	f.String("pixel-mode", string(reporter.PixelLoad), "pixel success mode: load or dispatch")
	f.Bool("no-pixel", false, "disable the pixel transport")
	f.Bool("no-beacon", false, "disable the beacon transport")
	f.Bool("gzip", false, "gzip direct request bodies")
	f.String("cache", "file", "durable cache backend: file, sqlite or memory")
	f.String("cache-path", defaultCachePath(), "durable cache location")
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".frontwatch-cache"
	}
	return filepath.Join(dir, "frontwatch")
}

func newReporter() (*reporter.Reporter, error) {
	endpoint, err := reportEndpoint()
	if err != nil {
		return nil, err
	}
	location := v.GetString("cache-path")
	if v.GetString("cache") == "sqlite" && !strings.HasSuffix(location, ".db") {
		location = filepath.Join(location, "cache.db")
	}
	store, err := cachestore.Open(v.GetString("cache"), location)
	if err != nil {
		return nil, fmt.Errorf("open durable cache: %w", err)
	}
	r, err := reporter.New(reporter.Config{
		Endpoint:       endpoint,
		AppID:          v.GetString("app"),
		AppVersion:     v.GetString("app-version"),
		BatchSize:      v.GetInt("batch-size"),
		FlushInterval:  v.GetDuration("flush-interval"),
		MaxRetries:     v.GetInt("max-retries"),
		Cache:          store,
		PixelMode:      reporter.PixelMode(v.GetString("pixel-mode")),
		DisablePixel:   v.GetBool("no-pixel"),
		DisableBeacon:  v.GetBool("no-beacon"),
		RequestTimeout: v.GetDuration("timeout"),
		Compress:       v.GetBool("gzip"),
		Logger:         logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	r.Start()
	return r, nil
}

// abandonReporter closes r without reporting. Deferred next to
// intercept.Recover so a panic event is flushed or cached before the
// process dies; after closeReporter it is a no-op.
func abandonReporter(r *reporter.Reporter) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.Close(ctx)
}

// closeReporter flushes r and prints its delivery counters.
func closeReporter(cmd *cobra.Command, r *reporter.Reporter) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.Close(ctx)
	s := r.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued=%d delivered=%d batches=%d failures=%d dropped=%d\n",
		s.Enqueued, s.DeliveredEvents, s.DeliveredBatch, s.Failures, s.DroppedEvents)
	return err
}
