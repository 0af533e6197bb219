package services

import (
	"testing"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PROJECT_ID", "audit-project")
	t.Setenv("SPLIT_PAGES_BUCKET", "pages")
	t.Setenv("BATCH_PAGE_THRESHOLD", "40")
	t.Setenv("BATCH_POLL_INTERVAL", "10s")
	t.Setenv("PAGE_CONCURRENCY", "")

	env, err := LoadEnvironment()
	require.NoError(t, err)
	assert.Equal(t, BlobBackendGCS, env.BlobBackend)
	assert.Equal(t, 40, env.BatchPageThreshold)
	assert.Equal(t, 10*time.Second, env.BatchConfig().PollInterval)
	assert.Equal(t, extraction.DefaultPageConcurrency, env.DispatchConfig().Concurrency)
	assert.Equal(t, env.ExtractionModel, env.BatchConfig().ModelIdentity)
}

func TestEnvironmentValidate(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
		ok   bool
	}{
		{"gcs", Environment{ProjectID: "p", BlobBackend: BlobBackendGCS, SplitPagesBucket: "pages"}, true},
		{"missing project", Environment{BlobBackend: BlobBackendGCS, SplitPagesBucket: "pages"}, false},
		{"gcs without bucket", Environment{ProjectID: "p", BlobBackend: BlobBackendGCS}, false},
		{"minio without endpoint", Environment{ProjectID: "p", BlobBackend: BlobBackendMinio}, false},
		{"unknown backend", Environment{ProjectID: "p", BlobBackend: "s3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
