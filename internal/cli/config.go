// Package cli loads the operator CLI configuration from flags, environment
// variables prefixed DISCLOSURE_ and an optional config file.
package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/batch"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/services"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "DISCLOSURE"
	DefaultLogLevel = "info"
)

// Config holds the settings shared by every subcommand.
type Config struct {
	ConfigFile string
	LogLevel   string
	JSON       bool
	Env        services.Environment
}

// globalFlags registers the flags every subcommand accepts.
func globalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.Bool("json", true, "Print results as JSON")

	fs.String("project-id", "", "Google Cloud project ID")
	fs.String("firestore-database", "", "Firestore database ID (default database when empty)")
	fs.String("firestore-collection", "documents", "Firestore collection of source documents")
	fs.String("batch-jobs-collection", "batchJobs", "Firestore collection of batch jobs")
	fs.String("vertex-ai-region", "us-central1", "Vertex AI region")
	fs.String("extraction-model", "gemini-2.5-flash", "Model used for extraction")
	fs.String("model-family", "gemini", "Model family recorded on runs")
	fs.String("blob-backend", services.BlobBackendGCS, "Blob backend: gcs or minio")
	fs.String("split-pages-bucket", "", "GCS bucket for source PDFs and batch units")
	fs.String("batch-bucket", "", "GCS bucket for batch manifests and results")
	fs.String("minio-endpoint", "", "MinIO endpoint (minio backend)")
	fs.String("minio-access-key", "", "MinIO access key")
	fs.String("minio-secret-key", "", "MinIO secret key")
	fs.String("minio-bucket", "", "MinIO bucket")
	fs.Bool("minio-use-ssl", false, "Use TLS for MinIO")
	fs.Int("page-concurrency", extraction.DefaultPageConcurrency, "Maximum concurrent unit extractions")
	fs.Duration("unit-timeout", 2*time.Minute, "Timeout for one unit extraction")
	fs.Int("batch-chunk-size", batch.DefaultChunkSize, "Pages per batch request")
	fs.Duration("batch-poll-interval", batch.DefaultPollInterval, "Interval between batch status polls")
}

// NewFlagSet returns a flag set for a subcommand with the global flags registered.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	globalFlags(fs)
	return fs
}

// Load resolves the configuration for a parsed flag set. Flags win over
// environment variables, which win over the config file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		ConfigFile: v.GetString("config"),
		LogLevel:   v.GetString("log-level"),
		JSON:       v.GetBool("json"),
		Env: services.Environment{
			ProjectID:           v.GetString("project-id"),
			FirestoreDatabase:   v.GetString("firestore-database"),
			DocumentsCollection: v.GetString("firestore-collection"),
			BatchJobsCollection: v.GetString("batch-jobs-collection"),
			VertexAIRegion:      v.GetString("vertex-ai-region"),
			ExtractionModel:     v.GetString("extraction-model"),
			ModelFamily:         v.GetString("model-family"),
			BlobBackend:         v.GetString("blob-backend"),
			SplitPagesBucket:    v.GetString("split-pages-bucket"),
			BatchBucket:         v.GetString("batch-bucket"),
			Minio: blobstore.MinioConfig{
				Endpoint:  v.GetString("minio-endpoint"),
				AccessKey: v.GetString("minio-access-key"),
				SecretKey: v.GetString("minio-secret-key"),
				Bucket:    v.GetString("minio-bucket"),
				UseSSL:    v.GetBool("minio-use-ssl"),
			},
			PageConcurrency:   v.GetInt("page-concurrency"),
			UnitTimeout:       v.GetDuration("unit-timeout"),
			BatchChunkSize:    v.GetInt("batch-chunk-size"),
			BatchPollInterval: v.GetDuration("batch-poll-interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Env.PageConcurrency < 1 {
		return errors.New("page-concurrency must be at least 1")
	}
	if c.Env.BatchChunkSize < 1 {
		return errors.New("batch-chunk-size must be at least 1")
	}
	return c.Env.Validate()
}
