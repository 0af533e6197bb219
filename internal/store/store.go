// Package store persists documents, extraction runs, validated datasets
// and batch jobs. Components depend on the narrow interfaces below rather
// than on a concrete backend.
package store

import (
	"context"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

// DocumentStore holds SourceDocument records and their per-page state.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.SourceDocument) (string, error)
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	// FindDocumentByHash returns common.ErrDocumentNotFound when no document has the hash.
	FindDocumentByHash(ctx context.Context, fileHash string) (*models.SourceDocument, error)
	ListDocumentsByStatus(ctx context.Context, status string) ([]models.SourceDocument, error)

	// BeginProcessing moves a document to processing, failing with
	// common.ErrAlreadyInProgress when a top-level extraction is in flight.
	BeginProcessing(ctx context.Context, id string) error
	SetDocumentStatus(ctx context.Context, id, status, errorDetails string) error
	SetPageCount(ctx context.Context, id string, pageCount int) error
	SetWorkflowExecution(ctx context.Context, id, executionName string) error
	SetPageRotation(ctx context.Context, id string, page, degrees int) error

	// AcquirePage moves an idle or failed page to pending. Any other state
	// is rejected with common.ErrAlreadyInProgress.
	AcquirePage(ctx context.Context, id string, page int) error
	// SetPageStatus records a page state; an empty status returns the page to idle.
	SetPageStatus(ctx context.Context, id string, page int, status, errMsg string) error
}

// RunStore holds ExtractionRuns.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.ExtractionRun) (string, error)
	// ListRuns returns a document's runs, most recently completed first.
	ListRuns(ctx context.Context, documentID string) ([]models.ExtractionRun, error)
	// UpdateLatestRun reads the latest run of a model family (any family when
	// empty), applies fn and writes the result back as one atomic step.
	// It returns common.ErrNoStoredRun when there is nothing to update.
	UpdateLatestRun(ctx context.Context, documentID, family string, fn func(*models.ExtractionRun) error) (*models.ExtractionRun, error)
}

// ValidatedStore holds the human-reviewed dataset of each document.
type ValidatedStore interface {
	// GetValidated returns nil without error when the document has no dataset.
	GetValidated(ctx context.Context, documentID string) (*models.ValidatedDataset, error)
	SaveValidated(ctx context.Context, ds *models.ValidatedDataset) error
	// UpdateValidated applies fn atomically when a dataset exists and reports whether it did.
	UpdateValidated(ctx context.Context, documentID string, fn func(*models.ValidatedDataset) error) (bool, error)
}

// BatchJobStore holds BatchJob records keyed by job name.
type BatchJobStore interface {
	SaveBatchJob(ctx context.Context, job *models.BatchJob) error
	GetBatchJob(ctx context.Context, jobName string) (*models.BatchJob, error)
}

// Store is everything a deployment persists.
type Store interface {
	DocumentStore
	RunStore
	ValidatedStore
	BatchJobStore
}

// latestIndex returns the index of the most recently completed run of the
// family, or -1. Ties go to the first run listed.
func latestIndex(runs []models.ExtractionRun, family string) int {
	best := -1
	for i, r := range runs {
		if family != "" && r.ModelFamily != family {
			continue
		}
		if best < 0 || r.CompletedAt.After(runs[best].CompletedAt) {
			best = i
		}
	}
	return best
}

// checkPageGate validates a re-extraction request against the document's
// page count and the page's current state.
func checkPageGate(doc *models.SourceDocument, page int) error {
	if page < 1 || (doc.PageCount > 0 && page > doc.PageCount) {
		return pageRangeError(page, doc.PageCount)
	}
	switch doc.PageState(page) {
	case "", models.PageStatusFailed:
		return nil
	default:
		return pageBusyError(page, doc.PageState(page))
	}
}
