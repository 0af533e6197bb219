package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/Lllllllleong/disclosureflow/internal/batch"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

const unitUploadConcurrency = 10

// VertexBatchConfig locates the model and the buckets a batch job uses.
type VertexBatchConfig struct {
	ProjectID string
	Region    string
	Model     string
}

// VertexBatchService runs batch prediction jobs against a Gemini model.
// Units are uploaded to the pages bucket and referenced by URI from a JSONL
// manifest written to the batch bucket; results are read back from the
// job's output directory.
type VertexBatchService struct {
	jobs   *aiplatform.JobClient
	pages  *Bucket
	output *Bucket
	cfg    VertexBatchConfig
	logger *slog.Logger
}

// NewVertexBatchService creates a regional job client.
func NewVertexBatchService(ctx context.Context, cfg VertexBatchConfig, pages, output *Bucket, logger *slog.Logger) (*VertexBatchService, error) {
	if cfg.ProjectID == "" || cfg.Region == "" || cfg.Model == "" {
		return nil, fmt.Errorf("NewVertexBatchService: project, region and model must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", cfg.Region)
	jobs, err := aiplatform.NewJobClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI job client: %w", err)
	}
	return &VertexBatchService{jobs: jobs, pages: pages, output: output, cfg: cfg, logger: logger}, nil
}

func (s *VertexBatchService) Close() error {
	return s.jobs.Close()
}

// manifestLine is one request of the JSONL input, in the REST shape of a
// generateContent call.
type manifestLine struct {
	Key     string          `json:"key"`
	Request manifestRequest `json:"request"`
}

type manifestRequest struct {
	Contents          []manifestContent `json:"contents"`
	SystemInstruction manifestContent   `json:"systemInstruction"`
	GenerationConfig  map[string]any    `json:"generationConfig"`
	Labels            map[string]string `json:"labels"`
}

type manifestContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []manifestPart `json:"parts"`
}

type manifestPart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// Submit uploads every unit, writes the manifest and creates the job.
func (s *VertexBatchService) Submit(ctx context.Context, displayName string, requests []batch.Request) (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405")
	prefix := fmt.Sprintf("batch/%s-%s", displayName, stamp)

	uris := make([]string, len(requests))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(unitUploadConcurrency)
	for i, r := range requests {
		object := fmt.Sprintf("%s/%s/%05d.pdf", r.DocumentID, prefix, r.Unit.Ordinal)
		eg.Go(func() error {
			if err := s.pages.Put(gctx, object, r.Unit.Bytes, "application/pdf"); err != nil {
				return fmt.Errorf("unit %s: %w", r.Key, err)
			}
			uris[i] = s.pages.URI(object)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", fmt.Errorf("one or more units failed to upload: %w", err)
	}

	manifest, err := buildManifest(requests, uris)
	if err != nil {
		return "", err
	}
	manifestObject := prefix + "/input.jsonl"
	if err := s.output.Put(ctx, manifestObject, manifest, "application/jsonl"); err != nil {
		return "", fmt.Errorf("failed to write batch manifest: %w", err)
	}

	job, err := s.jobs.CreateBatchPredictionJob(ctx, &aiplatformpb.CreateBatchPredictionJobRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s", s.cfg.ProjectID, s.cfg.Region),
		BatchPredictionJob: &aiplatformpb.BatchPredictionJob{
			DisplayName: displayName,
			Model:       fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", s.cfg.ProjectID, s.cfg.Region, s.cfg.Model),
			InputConfig: &aiplatformpb.BatchPredictionJob_InputConfig{
				InstancesFormat: "jsonl",
				Source: &aiplatformpb.BatchPredictionJob_InputConfig_GcsSource{
					GcsSource: &aiplatformpb.GcsSource{Uris: []string{s.output.URI(manifestObject)}},
				},
			},
			OutputConfig: &aiplatformpb.BatchPredictionJob_OutputConfig{
				PredictionsFormat: "jsonl",
				Destination: &aiplatformpb.BatchPredictionJob_OutputConfig_GcsDestination{
					GcsDestination: &aiplatformpb.GcsDestination{OutputUriPrefix: s.output.URI(prefix + "/output")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create batch prediction job: %w", err)
	}
	s.logger.Info("Batch prediction job created.", "jobName", job.GetName(), "requests", len(requests))
	return job.GetName(), nil
}

func buildManifest(requests []batch.Request, uris []string) ([]byte, error) {
	genCfg := map[string]any{
		"responseMimeType": "application/json",
		"responseSchema":   ResponseSchemaJSON(),
		"temperature":      0,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range requests {
		line := manifestLine{
			Key: r.Key,
			Request: manifestRequest{
				Contents: []manifestContent{{
					Role: "user",
					Parts: []manifestPart{
						{FileData: &fileData{MIMEType: "application/pdf", FileURI: uris[i]}},
						{Text: ExtractorUserPrompt},
					},
				}},
				SystemInstruction: manifestContent{Parts: []manifestPart{{Text: ExtractorSystemPrompt}}},
				GenerationConfig:  genCfg,
				Labels:            map[string]string{"key": r.Key},
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to encode manifest line %s: %w", r.Key, err)
		}
	}
	return buf.Bytes(), nil
}

// ResponseSchemaJSON is the REST rendering of ResponseSchema.
func ResponseSchemaJSON() map[string]any {
	row := func(fields []extraction.Field) map[string]any {
		props := map[string]any{
			"pageNumber":       map[string]any{"type": "INTEGER"},
			"unreadableFields": map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		}
		for _, f := range fields {
			t := "STRING"
			if f.Type == extraction.FieldNumber {
				t = "NUMBER"
			}
			props[f.Name] = map[string]any{"type": t, "nullable": true, "description": f.Description}
		}
		return map[string]any{"type": "ARRAY", "items": map[string]any{"type": "OBJECT", "properties": props}}
	}
	return map[string]any{
		"type":     "OBJECT",
		"required": []string{models.KindIngress, models.KindEgress},
		"properties": map[string]any{
			models.KindIngress: row(extraction.IngressFields),
			models.KindEgress:  row(extraction.EgressFields),
		},
	}
}

// Status maps the job's state onto the pipeline's batch states.
func (s *VertexBatchService) Status(ctx context.Context, jobName string) (batch.JobStatus, error) {
	job, err := s.jobs.GetBatchPredictionJob(ctx, &aiplatformpb.GetBatchPredictionJobRequest{Name: jobName})
	if err != nil {
		return batch.JobStatus{}, fmt.Errorf("failed to get batch prediction job: %w", err)
	}
	return batch.JobStatus{
		State:          MapJobState(job.GetState()),
		Message:        job.GetError().GetMessage(),
		ResultLocation: job.GetOutputInfo().GetGcsOutputDirectory(),
	}, nil
}

// MapJobState folds Vertex job states into submitted, running and the
// terminal states. Partial success counts as success; failed lines are
// handled per record.
func MapJobState(st aiplatformpb.JobState) string {
	switch st {
	case aiplatformpb.JobState_JOB_STATE_SUCCEEDED, aiplatformpb.JobState_JOB_STATE_PARTIALLY_SUCCEEDED:
		return models.BatchSucceeded
	case aiplatformpb.JobState_JOB_STATE_FAILED:
		return models.BatchFailed
	case aiplatformpb.JobState_JOB_STATE_CANCELLED:
		return models.BatchCancelled
	case aiplatformpb.JobState_JOB_STATE_EXPIRED:
		return models.BatchExpired
	case aiplatformpb.JobState_JOB_STATE_QUEUED, aiplatformpb.JobState_JOB_STATE_PENDING:
		return models.BatchSubmitted
	default:
		return models.BatchRunning
	}
}

// Results streams the prediction files of a finished job.
func (s *VertexBatchService) Results(ctx context.Context, job *models.BatchJob) (io.ReadCloser, error) {
	if job.ResultLocation == "" {
		return nil, fmt.Errorf("batch job %s has no result location", job.JobName)
	}
	bucket, prefix, err := ParseGCSURI(job.ResultLocation)
	if err != nil {
		return nil, err
	}
	if bucket != s.output.Name() {
		return nil, fmt.Errorf("result location %s is outside bucket %s", job.ResultLocation, s.output.Name())
	}
	return s.output.OpenConcatenated(ctx, strings.TrimSuffix(prefix, "/")+"/", ".jsonl")
}
