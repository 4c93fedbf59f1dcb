package main

import (
	"time"

	"github.com/tinytelemetry/frontwatch/internal/forward"
	"github.com/tinytelemetry/frontwatch/internal/ingest"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

const (
	defaultBindHost            = "0.0.0.0"
	defaultPort                = model.DefaultServerPort
	defaultQueryTimeout        = 30 * time.Second
	defaultMaxBodySize         = ingest.DefaultMaxBodySize
	defaultInsertBatchSize     = 500
	defaultInsertFlushInterval = 250 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultEventRetention      = 30 // days, 0 = disabled
	defaultArtifactName        = model.DefaultArtifactName
	defaultArtifactMaxSize     = 64 << 20
	defaultRestoreConcurrency  = 8
	defaultBackupInterval      = 6 * time.Hour
	defaultBackupKeepLast      = 7
	defaultNATSSubjectPrefix   = forward.DefaultSubjectPrefix
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Port         int           `mapstructure:"port"`
	Addr         string        `mapstructure:"addr"`
	DBPath       string        `mapstructure:"db-path"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
	MaxBodySize  int64         `mapstructure:"max-body-size"`

	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	EventRetention      int           `mapstructure:"event-retention"`

	TCPEnabled bool   `mapstructure:"tcp-enabled"`
	TCPAddr    string `mapstructure:"tcp-addr"`
	TCPApp     string `mapstructure:"tcp-app"`

	ArtifactDir        string `mapstructure:"artifact-dir"`
	ArtifactName       string `mapstructure:"artifact-name"`
	ArtifactMaxSize    int64  `mapstructure:"artifact-max-size"`
	ValidateArtifacts  bool   `mapstructure:"validate-artifacts"`
	SourceRoot         string `mapstructure:"source-root"`
	RestoreConcurrency int    `mapstructure:"restore-concurrency"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	NATSURL           string `mapstructure:"nats-url"`
	NATSToken         string `mapstructure:"nats-token"`
	NATSSubjectPrefix string `mapstructure:"nats-subject-prefix"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
