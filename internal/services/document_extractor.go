package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/gcp"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
	"github.com/Lllllllleong/disclosureflow/internal/store"
)

// SourceSync marks runs produced by the synchronous path.
const SourceSync = "sync"

// GCSEvent is the payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectFetcher reads an uploaded object.
type ObjectFetcher func(ctx context.Context, bucket, object string) ([]byte, error)

// WorkflowLauncher starts the batch workflow for a large document.
type WorkflowLauncher interface {
	Launch(ctx context.Context, argument any) (string, error)
}

type DocumentExtractorConfig struct {
	ModelIdentity string
	ModelFamily   string
	// Documents with more pages go to the batch workflow. Zero keeps every
	// document on the synchronous path.
	BatchPageThreshold int
	Dispatch           extraction.DispatchConfig
}

// DocumentExtractorDeps are the collaborators of a DocumentExtractorFunction.
type DocumentExtractorDeps struct {
	Store     store.Store
	Blobs     blobstore.Store
	Fetch     ObjectFetcher
	Extractor extraction.Extractor
	Workflows WorkflowLauncher
	Logger    *slog.Logger
}

// DocumentExtractorFunction registers uploaded disclosures and runs their
// top-level extraction.
type DocumentExtractorFunction struct {
	store      store.Store
	blobs      blobstore.Store
	fetch      ObjectFetcher
	workflows  WorkflowLauncher
	segmenter  *segment.Segmenter
	dispatcher *extraction.Dispatcher
	config     DocumentExtractorConfig
	logger     *slog.Logger
	now        func() time.Time
}

// IngestResult describes what happened to one document.
type IngestResult struct {
	DocumentID        string `json:"documentId"`
	Duplicate         bool   `json:"duplicate,omitempty"`
	Status            string `json:"status"`
	PageCount         int    `json:"pageCount,omitempty"`
	RunID             string `json:"runId,omitempty"`
	FailedPages       []int  `json:"failedPages,omitempty"`
	WorkflowExecution string `json:"workflowExecution,omitempty"`
}

// NewDocumentExtractor wires the function from the environment.
func NewDocumentExtractor(ctx context.Context) (*DocumentExtractorFunction, error) {
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
	extractor, err := env.OpenExtractor(ctx, slog.Default())
	if err != nil {
		return nil, err
	}
	var workflows WorkflowLauncher
	if env.BatchPageThreshold > 0 {
		launcher, err := gcp.NewWorkflowLauncher(ctx, env.ProjectID, env.WorkflowLocation, env.WorkflowID)
		if err != nil {
			return nil, err
		}
		workflows = launcher
	}

	f := NewDocumentExtractorWith(DocumentExtractorDeps{
		Store: st,
		Blobs: blobs,
		Fetch: func(ctx context.Context, bucket, object string) ([]byte, error) {
			return gcp.NewBucket(storageClient, bucket).Get(ctx, object)
		},
		Extractor: extractor,
		Workflows: workflows,
	}, DocumentExtractorConfig{
		ModelIdentity:      env.ModelIdentity(),
		ModelFamily:        env.ModelFamily,
		BatchPageThreshold: env.BatchPageThreshold,
		Dispatch:           env.DispatchConfig(),
	})
	slog.Info("Document extractor initialized.", "model", env.ExtractionModel, "batchPageThreshold", env.BatchPageThreshold)
	return f, nil
}

// NewDocumentExtractorWith builds the function from explicit collaborators.
func NewDocumentExtractorWith(deps DocumentExtractorDeps, cfg DocumentExtractorConfig) *DocumentExtractorFunction {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentExtractorFunction{
		store:      deps.Store,
		blobs:      deps.Blobs,
		fetch:      deps.Fetch,
		workflows:  deps.Workflows,
		segmenter:  segment.New(),
		dispatcher: extraction.NewDispatcher(deps.Extractor, cfg.Dispatch, logger),
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Process handles an upload event.
func (f *DocumentExtractorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := f.logger.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")
	if f.fetch == nil {
		return fmt.Errorf("no object fetcher configured")
	}
	pdf, err := f.fetch(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}
	_, err = f.Ingest(ctx, e.Name, pdf)
	return err
}

// Ingest registers a disclosure and extracts it. A file whose hash is
// already known is reported as a duplicate and not processed again.
func (f *DocumentExtractorFunction) Ingest(ctx context.Context, filename string, pdf []byte) (*IngestResult, error) {
	fileHash := calculateFileHash(pdf)
	logCtx := f.logger.With("fileHash", fileHash, "filename", filename)

	existing, err := f.store.FindDocumentByHash(ctx, fileHash)
	switch {
	case err == nil:
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing.ID)
		return &IngestResult{DocumentID: existing.ID, Duplicate: true, Status: existing.Status, PageCount: existing.PageCount}, nil
	case !errors.Is(err, common.ErrDocumentNotFound):
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}

	docID, err := f.store.CreateDocument(ctx, &models.SourceDocument{
		FileHash:         fileHash,
		OriginalFilename: filename,
		Status:           models.StatusPending,
		CreatedAt:        f.now(),
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return nil, fmt.Errorf("failed to create source document: %w", err)
	}
	logCtx = logCtx.With("documentId", docID)
	logCtx.Info("Created source document.")

	if _, err := f.blobs.PutIfAbsent(ctx, blobstore.SourceObject(docID), pdf, "application/pdf"); err != nil {
		return nil, f.handleError(ctx, logCtx, docID, "failed to store source PDF", err)
	}
	return f.Extract(ctx, docID)
}

// Extract runs the top-level extraction of a stored document. Unit
// failures are recorded as failed pages on the run; only segmentation,
// extractor or store failures fail the document.
func (f *DocumentExtractorFunction) Extract(ctx context.Context, documentID string) (*IngestResult, error) {
	logCtx := f.logger.With("documentId", documentID)

	if err := f.store.BeginProcessing(ctx, documentID); err != nil {
		logCtx.Warn("Document cannot enter processing.", "error", err)
		return nil, err
	}

	pdf, err := f.blobs.Get(ctx, blobstore.SourceObject(documentID))
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to read source PDF", err)
	}
	pageCount, err := f.segmenter.PageCount(pdf)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to get page count", err)
	}
	if err := f.store.SetPageCount(ctx, documentID, pageCount); err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to record page count", err)
	}
	logCtx = logCtx.With("pageCount", pageCount)

	if f.config.BatchPageThreshold > 0 && pageCount > f.config.BatchPageThreshold && f.workflows != nil {
		return f.triggerWorkflow(ctx, logCtx, documentID, pageCount)
	}

	units, err := f.segmenter.Segment(pdf, segment.DefaultSpan)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to split PDF", err)
	}
	results, err := f.dispatcher.Dispatch(ctx, units)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "extraction could not start", err)
	}
	agg := extraction.Aggregate(results)

	runID, err := f.store.SaveRun(ctx, &models.ExtractionRun{
		DocumentID:    documentID,
		ModelIdentity: f.config.ModelIdentity,
		ModelFamily:   f.config.ModelFamily,
		Rows:          agg.Rows,
		FailedPages:   agg.FailedPages,
		Source:        SourceSync,
		CompletedAt:   f.now(),
	})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to save extraction run", err)
	}
	if err := f.store.SetDocumentStatus(ctx, documentID, models.StatusCompleted, ""); err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to update status to COMPLETED", err)
	}
	logCtx.Info("Extraction complete.", "runId", runID,
		"ingressRows", len(agg.Rows.Ingress), "egressRows", len(agg.Rows.Egress), "failedPages", agg.FailedPages)

	return &IngestResult{
		DocumentID:  documentID,
		Status:      models.StatusCompleted,
		PageCount:   pageCount,
		RunID:       runID,
		FailedPages: agg.FailedPages,
	}, nil
}

func (f *DocumentExtractorFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, documentID string, pageCount int) (*IngestResult, error) {
	logCtx.Info("Triggering batch workflow.")
	execution, err := f.workflows.Launch(ctx, map[string]any{
		"documentId":  documentID,
		"pageCount":   pageCount,
		"modelFamily": f.config.ModelFamily,
	})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, documentID, "failed to trigger workflow execution", err)
	}
	if err := f.store.SetWorkflowExecution(ctx, documentID, execution); err != nil {
		logCtx.Warn("Failed to record workflow execution.", "execution", execution, "error", err)
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execution)
	return &IngestResult{
		DocumentID:        documentID,
		Status:            models.StatusProcessing,
		PageCount:         pageCount,
		WorkflowExecution: execution,
	}, nil
}

// handleError marks the document FAILED with the error details and returns
// the wrapped error.
func (f *DocumentExtractorFunction) handleError(ctx context.Context, logCtx *slog.Logger, documentID, message string, originalErr error) error {
	return markFailed(ctx, f.store, logCtx, documentID, message, originalErr)
}

func markFailed(ctx context.Context, st store.DocumentStore, logCtx *slog.Logger, documentID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := st.SetDocumentStatus(ctx, documentID, models.StatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func calculateFileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
