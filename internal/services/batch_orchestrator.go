package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/disclosureflow/internal/batch"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/store"
	"github.com/google/uuid"
)

// BatchSourcePrefix prefixes the Source of runs produced by a batch job.
const BatchSourcePrefix = "batch:"

// BatchOrchestratorFunction submits documents to the batch service and
// turns finished jobs into extraction runs.
type BatchOrchestratorFunction struct {
	store        store.Store
	blobs        blobstore.Store
	orchestrator *batch.Orchestrator
	logger       *slog.Logger
	now          func() time.Time
}

// NewBatchOrchestrator wires the function from the environment.
func NewBatchOrchestrator(ctx context.Context) (*BatchOrchestratorFunction, error) {
	env, err := LoadEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := env.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	blobs, err := env.OpenBlobStore(ctx, storageClient)
	if err != nil {
		return nil, err
	}
	svc, err := env.OpenBatchService(ctx, storageClient, slog.Default())
	if err != nil {
		return nil, err
	}
	return NewBatchOrchestratorWith(st, blobs, svc, env.BatchConfig(), nil), nil
}

// NewBatchOrchestratorWith builds the function from explicit collaborators.
func NewBatchOrchestratorWith(st store.Store, blobs blobstore.Store, svc batch.Service, cfg batch.Config, logger *slog.Logger) *BatchOrchestratorFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchOrchestratorFunction{
		store:        st,
		blobs:        blobs,
		orchestrator: batch.NewOrchestrator(svc, st, cfg, logger),
		logger:       logger,
		now:          time.Now,
	}
}

// Submit gates every document into processing and submits one job for all
// of them. Documents already handed off by the extractor keep their state.
func (f *BatchOrchestratorFunction) Submit(ctx context.Context, req *models.SubmitBatchRequest) (*models.SubmitBatchResponse, error) {
	logCtx := f.logger.With("executionId", req.ExecutionID, "documents", len(req.DocumentIDs))
	if len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: no documents to submit", common.ErrMalformedDocument)
	}

	var sources []batch.Source
	var claimed []string
	release := func(cause error) {
		for _, id := range claimed {
			_ = markFailed(ctx, f.store, logCtx.With("documentId", id), id, "batch submission failed", cause)
		}
	}
	seen := make(map[string]bool, len(req.DocumentIDs))
	for _, id := range req.DocumentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		doc, err := f.store.GetDocument(ctx, id)
		if err != nil {
			release(err)
			return nil, err
		}
		if doc.Status != models.StatusProcessing || doc.WorkflowExecutionID == "" {
			if err := f.store.BeginProcessing(ctx, id); err != nil {
				release(err)
				return nil, err
			}
		}
		claimed = append(claimed, id)

		pdf, err := f.blobs.Get(ctx, blobstore.SourceObject(id))
		if err != nil {
			err = fmt.Errorf("document %s: %w", id, err)
			release(err)
			return nil, err
		}
		sources = append(sources, batch.Source{DocumentID: id, PDF: pdf})
	}

	displayName := "disclosureflow-" + uuid.NewString()[:8]
	job, err := f.orchestrator.Submit(ctx, displayName, sources, req.ChunkSize)
	if err != nil {
		if job == nil {
			release(err)
		}
		logCtx.Error("Batch submission failed", "error", err)
		return nil, err
	}
	logCtx.Info("Batch submitted.", "jobName", job.JobName, "requests", len(job.RequestKeys))
	return &models.SubmitBatchResponse{
		Status:       "success",
		JobName:      job.JobName,
		RequestCount: len(job.RequestKeys),
	}, nil
}

// Collect waits for the job to finish, saves one run per document and
// marks each document completed. A job that ends without success fails
// every document it carried.
func (f *BatchOrchestratorFunction) Collect(ctx context.Context, req *models.CollectBatchRequest) (*models.CollectBatchResponse, error) {
	logCtx := f.logger.With("jobName", req.JobName, "executionId", req.ExecutionID)

	job, err := f.orchestrator.Poll(ctx, req.JobName)
	if err != nil {
		var terminal *common.BatchTerminalError
		if errors.As(err, &terminal) && job != nil {
			for _, id := range job.DocumentIDs {
				_ = markFailed(ctx, f.store, logCtx.With("documentId", id), id, "batch job did not succeed", err)
			}
			return &models.CollectBatchResponse{Status: "failed", State: job.State}, err
		}
		logCtx.Warn("Batch job not collected.", "error", err)
		return nil, err
	}

	collection, err := f.orchestrator.Collect(ctx, job)
	if err != nil {
		logCtx.Error("Failed to collect batch results", "error", err)
		return nil, err
	}

	resp := &models.CollectBatchResponse{
		Status:       "success",
		State:        job.State,
		RunIDs:       make(map[string]string, len(collection.Documents)),
		SkippedLines: collection.SkippedLines,
	}
	for _, id := range job.DocumentIDs {
		agg := collection.Documents[id]
		docLog := logCtx.With("documentId", id)
		runID, err := f.store.SaveRun(ctx, &models.ExtractionRun{
			DocumentID:    id,
			ModelIdentity: job.ModelIdentity,
			ModelFamily:   job.ModelFamily,
			Rows:          agg.Rows,
			FailedPages:   agg.FailedPages,
			Source:        BatchSourcePrefix + job.JobName,
			CompletedAt:   f.now(),
		})
		if err != nil {
			return nil, markFailed(ctx, f.store, docLog, id, "failed to save extraction run", err)
		}
		if err := f.store.SetDocumentStatus(ctx, id, models.StatusCompleted, ""); err != nil {
			return nil, markFailed(ctx, f.store, docLog, id, "failed to update status to COMPLETED", err)
		}
		resp.RunIDs[id] = runID
		docLog.Info("Batch results saved.", "runId", runID, "failedPages", agg.FailedPages)
	}
	return resp, nil
}
