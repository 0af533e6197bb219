package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/disclosureflow/internal/batch"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/gcp"
	"github.com/Lllllllleong/disclosureflow/internal/store"
)

// Blob backends selectable with BLOB_BACKEND.
const (
	BlobBackendGCS   = "gcs"
	BlobBackendMinio = "minio"
)

// Environment is the deployment configuration shared by every function.
type Environment struct {
	ProjectID           string
	FirestoreDatabase   string
	DocumentsCollection string
	BatchJobsCollection string

	VertexAIRegion  string
	ExtractionModel string
	ModelFamily     string

	BlobBackend      string
	SplitPagesBucket string
	BatchBucket      string
	Minio            blobstore.MinioConfig

	PageConcurrency    int
	UnitTimeout        time.Duration
	BatchPageThreshold int
	BatchChunkSize     int
	BatchPollInterval  time.Duration

	WorkflowID       string
	WorkflowLocation string
}

// LoadEnvironment reads the configuration from environment variables.
func LoadEnvironment() (Environment, error) {
	env := Environment{
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", ""),
		DocumentsCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		BatchJobsCollection: gcp.GetEnv("BATCH_JOBS_COLLECTION", "batchJobs"),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		ExtractionModel:     gcp.GetEnv("EXTRACTION_MODEL", "gemini-2.5-flash"),
		ModelFamily:         gcp.GetEnv("MODEL_FAMILY", "gemini"),
		BlobBackend:         gcp.GetEnv("BLOB_BACKEND", BlobBackendGCS),
		SplitPagesBucket:    gcp.GetEnv("SPLIT_PAGES_BUCKET", ""),
		BatchBucket:         gcp.GetEnv("BATCH_BUCKET", ""),
		Minio: blobstore.MinioConfig{
			Endpoint:  gcp.GetEnv("MINIO_ENDPOINT", ""),
			AccessKey: gcp.GetEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: gcp.GetEnv("MINIO_SECRET_KEY", ""),
			Bucket:    gcp.GetEnv("MINIO_BUCKET", ""),
			UseSSL:    gcp.GetEnvBool("MINIO_USE_SSL", false),
		},
		PageConcurrency:    gcp.GetEnvInt("PAGE_CONCURRENCY", extraction.DefaultPageConcurrency),
		UnitTimeout:        gcp.GetEnvDuration("UNIT_TIMEOUT", 2*time.Minute),
		BatchPageThreshold: gcp.GetEnvInt("BATCH_PAGE_THRESHOLD", 0),
		BatchChunkSize:     gcp.GetEnvInt("BATCH_CHUNK_SIZE", batch.DefaultChunkSize),
		BatchPollInterval:  gcp.GetEnvDuration("BATCH_POLL_INTERVAL", batch.DefaultPollInterval),
		WorkflowID:         gcp.GetEnv("WORKFLOW_ID", "disclosure-batch-orchestrator"),
		WorkflowLocation:   gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if err := env.Validate(); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// Validate checks the settings every function needs.
func (e Environment) Validate() error {
	if e.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	switch e.BlobBackend {
	case BlobBackendGCS:
		if e.SplitPagesBucket == "" {
			return fmt.Errorf("SPLIT_PAGES_BUCKET environment variable must be set")
		}
	case BlobBackendMinio:
		if e.Minio.Endpoint == "" || e.Minio.Bucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET must be set for the minio backend")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", e.BlobBackend)
	}
	return nil
}

// ModelIdentity names the exact model that produces runs in this deployment.
func (e Environment) ModelIdentity() string {
	return e.ExtractionModel
}

// OpenStore connects to Firestore.
func (e Environment) OpenStore(ctx context.Context) (*store.FirestoreStore, error) {
	client, err := gcp.NewFirestoreClient(ctx, e.ProjectID, e.FirestoreDatabase)
	if err != nil {
		return nil, err
	}
	return store.NewFirestoreStore(client, e.DocumentsCollection, e.BatchJobsCollection), nil
}

// OpenBlobStore returns the configured document blob store.
func (e Environment) OpenBlobStore(ctx context.Context, storageClient *storage.Client) (blobstore.Store, error) {
	if e.BlobBackend == BlobBackendMinio {
		s, err := blobstore.NewMinioStore(e.Minio)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	if storageClient == nil {
		return nil, fmt.Errorf("a storage client is required for the gcs backend")
	}
	return gcp.NewBucket(storageClient, e.SplitPagesBucket), nil
}

// OpenExtractor creates the synchronous Vertex AI extractor.
func (e Environment) OpenExtractor(ctx context.Context, logger *slog.Logger) (*gcp.VertexExtractor, error) {
	return gcp.NewVertexExtractor(ctx, e.ProjectID, e.VertexAIRegion, e.ExtractionModel, logger)
}

// OpenBatchService creates the Vertex AI batch service. Batch units and
// manifests always live in GCS because the batch service reads from there.
func (e Environment) OpenBatchService(ctx context.Context, storageClient *storage.Client, logger *slog.Logger) (*gcp.VertexBatchService, error) {
	if e.SplitPagesBucket == "" || e.BatchBucket == "" {
		return nil, fmt.Errorf("SPLIT_PAGES_BUCKET and BATCH_BUCKET must be set for batch extraction")
	}
	return gcp.NewVertexBatchService(ctx, gcp.VertexBatchConfig{
		ProjectID: e.ProjectID,
		Region:    e.VertexAIRegion,
		Model:     e.ExtractionModel,
	}, gcp.NewBucket(storageClient, e.SplitPagesBucket), gcp.NewBucket(storageClient, e.BatchBucket), logger)
}

// BatchConfig is the orchestrator configuration for this deployment.
func (e Environment) BatchConfig() batch.Config {
	return batch.Config{
		ChunkSize:     e.BatchChunkSize,
		PollInterval:  e.BatchPollInterval,
		ModelIdentity: e.ModelIdentity(),
		ModelFamily:   e.ModelFamily,
	}
}

// DispatchConfig is the dispatcher configuration for this deployment.
func (e Environment) DispatchConfig() extraction.DispatchConfig {
	return extraction.DispatchConfig{Concurrency: e.PageConcurrency, UnitTimeout: e.UnitTimeout}
}

// openBlobs opens the blob store, creating a storage client only when the
// backend needs one.
func openBlobs(ctx context.Context, env Environment) (blobstore.Store, error) {
	var client *storage.Client
	if env.BlobBackend == BlobBackendGCS {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		client = c
	}
	return env.OpenBlobStore(ctx, client)
}
