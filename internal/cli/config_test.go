package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := NewFlagSet("test")
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "--project-id=p", "--split-pages-bucket=pages")
	require.NoError(t, err)
	assert.Equal(t, "p", cfg.Env.ProjectID)
	assert.Equal(t, "documents", cfg.Env.DocumentsCollection)
	assert.Equal(t, services.BlobBackendGCS, cfg.Env.BlobBackend)
	assert.Equal(t, 50, cfg.Env.PageConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Env.BatchPollInterval)
	assert.Equal(t, 1, cfg.Env.BatchChunkSize)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "disclosure.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"project-id: from-file\nsplit-pages-bucket: file-bucket\npage-concurrency: 8\nmodel-family: file-family\n"), 0o600))

	t.Setenv("DISCLOSURE_SPLIT_PAGES_BUCKET", "env-bucket")
	t.Setenv("DISCLOSURE_PAGE_CONCURRENCY", "12")

	cfg, err := load(t, "--config="+file, "--page-concurrency=20")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Env.ProjectID)
	assert.Equal(t, "env-bucket", cfg.Env.SplitPagesBucket)
	assert.Equal(t, 20, cfg.Env.PageConcurrency)
	assert.Equal(t, "file-family", cfg.Env.ModelFamily)
}

func TestLoadMinioBackend(t *testing.T) {
	cfg, err := load(t, "--project-id=p", "--blob-backend=minio",
		"--minio-endpoint=localhost:9000", "--minio-bucket=docs", "--minio-access-key=ak")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.Env.Minio.Endpoint)
	assert.Equal(t, "docs", cfg.Env.Minio.Bucket)
	assert.Equal(t, "ak", cfg.Env.Minio.AccessKey)
	assert.False(t, cfg.Env.Minio.UseSSL)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing project", []string{"--split-pages-bucket=b"}},
		{"missing bucket", []string{"--project-id=p"}},
		{"unknown backend", []string{"--project-id=p", "--blob-backend=s3"}},
		{"minio without endpoint", []string{"--project-id=p", "--blob-backend=minio", "--minio-bucket=b"}},
		{"zero concurrency", []string{"--project-id=p", "--split-pages-bucket=b", "--page-concurrency=0"}},
		{"zero chunk", []string{"--project-id=p", "--split-pages-bucket=b", "--batch-chunk-size=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := load(t, "--config="+filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
