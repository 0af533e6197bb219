// Package patch applies a single re-extracted page onto stored artifacts
// without touching any other page.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
)

type pageRow[R any] interface {
	models.Row
	WithPage(int) R
}

// ReplacePage drops every row on page and appends fresh with its page
// forced to page. Rows on other pages keep their order.
func ReplacePage[R pageRow[R]](rows []R, page int, fresh []R) []R {
	out := make([]R, 0, len(rows)+len(fresh))
	for _, r := range rows {
		if r.Page() != page {
			out = append(out, r)
		}
	}
	for _, r := range fresh {
		out = append(out, r.WithPage(page))
	}
	return out
}

// ReplaceRows applies ReplacePage to both row kinds.
func ReplaceRows(set models.RowSet, page int, fresh models.RowSet) models.RowSet {
	return models.RowSet{
		Ingress: ReplacePage(set.Ingress, page, fresh.Ingress),
		Egress:  ReplacePage(set.Egress, page, fresh.Egress),
	}
}

// Store is the persistence a Patcher needs.
type Store interface {
	AcquirePage(ctx context.Context, id string, page int) error
	SetPageStatus(ctx context.Context, id string, page int, status, errMsg string) error
	UpdateLatestRun(ctx context.Context, documentID, family string, fn func(*models.ExtractionRun) error) (*models.ExtractionRun, error)
	UpdateValidated(ctx context.Context, documentID string, fn func(*models.ValidatedDataset) error) (bool, error)
}

const validatedWriteAttempts = 3

// Patcher drives the per-page state machine
// idle -> pending -> processing -> idle, or -> failed on error.
type Patcher struct {
	store   Store
	logger  *slog.Logger
	backoff time.Duration
}

// New returns a Patcher.
func New(store Store, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{store: store, logger: logger, backoff: 500 * time.Millisecond}
}

// Result reports what a patch touched.
type Result struct {
	Run              *models.ExtractionRun
	ValidatedPatched bool
}

// Begin claims a page for re-extraction.
func (p *Patcher) Begin(ctx context.Context, documentID string, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: page %d", common.ErrInvalidPage, page)
	}
	return p.store.AcquirePage(ctx, documentID, page)
}

// MarkProcessing records that extraction of a claimed page has started.
func (p *Patcher) MarkProcessing(ctx context.Context, documentID string, page int) error {
	return p.store.SetPageStatus(ctx, documentID, page, models.PageStatusProcessing, "")
}

// Apply replaces the page in the latest run of family and, when one exists,
// in the validated dataset, then returns the page to idle. Each artifact is
// read, recomputed and written as a whole. The run is written first; the
// validated write is retried, and if it still fails the error reports that
// only the run was patched. Patching is idempotent, so re-extracting the
// failed page brings both artifacts back in line.
func (p *Patcher) Apply(ctx context.Context, documentID string, page int, family string, fresh models.RowSet) (*Result, error) {
	logger := p.logger.With("documentId", documentID, "page", page, "modelFamily", family)

	run, err := p.store.UpdateLatestRun(ctx, documentID, family, func(r *models.ExtractionRun) error {
		r.Rows = ReplaceRows(r.Rows, page, fresh)
		r.FailedPages = slices.DeleteFunc(r.FailedPages, func(fp int) bool { return fp == page })
		return nil
	})
	if err != nil {
		return nil, common.WrapError(err, "failed to patch extraction run")
	}

	patched, err := p.patchValidated(ctx, logger, documentID, page, fresh.Validated())
	if err != nil {
		return nil, fmt.Errorf("run %s patched but validated dataset was not: %w", run.ID, err)
	}

	if err := p.store.SetPageStatus(ctx, documentID, page, "", ""); err != nil {
		return nil, common.WrapError(err, "failed to release page")
	}
	logger.Info("Page patched.", "runId", run.ID,
		"ingressRows", len(fresh.Ingress), "egressRows", len(fresh.Egress), "validatedPatched", patched)
	return &Result{Run: run, ValidatedPatched: patched}, nil
}

func (p *Patcher) patchValidated(ctx context.Context, logger *slog.Logger, documentID string, page int, fresh models.RowSet) (bool, error) {
	backoff := p.backoff
	var lastErr error
	for i := 0; i < validatedWriteAttempts; i++ {
		patched, err := p.store.UpdateValidated(ctx, documentID, func(ds *models.ValidatedDataset) error {
			ds.Rows = ReplaceRows(ds.Rows, page, fresh)
			return nil
		})
		if err == nil {
			return patched, nil
		}
		lastErr = err
		logger.Warn("Validated dataset write failed, will retry.",
			"attempt", i+1, "maxAttempts", validatedWriteAttempts, "backoff", backoff.String(), "error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, common.WrapError(lastErr, "failed to patch validated dataset")
}

// Fail marks a claimed page failed with the cause. The page can be retried.
func (p *Patcher) Fail(ctx context.Context, documentID string, page int, cause error) error {
	msg := "re-extraction failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.SetPageStatus(ctx, documentID, page, models.PageStatusFailed, msg); err != nil {
		p.logger.Error("CRITICAL: Failed to mark page as failed after a re-extraction error.",
			"documentId", documentID, "page", page, "updateError", err)
		return err
	}
	return nil
}
