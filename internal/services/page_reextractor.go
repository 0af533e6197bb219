package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/patch"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
	"github.com/Lllllllleong/disclosureflow/internal/store"
)

// PageReextractorFunction re-extracts a single page and patches it into
// the stored run and validated dataset.
type PageReextractorFunction struct {
	store         store.Store
	blobs         blobstore.Store
	extractor     extraction.Extractor
	patcher       *patch.Patcher
	segmenter     *segment.Segmenter
	defaultFamily string
	logger        *slog.Logger
}

// NewPageReextractor wires the function from the environment.
func NewPageReextractor(ctx context.Context) (*PageReextractorFunction, error) {
	env, err := LoadEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := env.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(ctx, env)
	if err != nil {
		return nil, err
	}
	extractor, err := env.OpenExtractor(ctx, slog.Default())
	if err != nil {
		return nil, err
	}
	return NewPageReextractorWith(st, blobs, extractor, env.ModelFamily, nil), nil
}

// NewPageReextractorWith builds the function from explicit collaborators.
func NewPageReextractorWith(st store.Store, blobs blobstore.Store, extractor extraction.Extractor, defaultFamily string, logger *slog.Logger) *PageReextractorFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageReextractorFunction{
		store:         st,
		blobs:         blobs,
		extractor:     extractor,
		patcher:       patch.New(st, logger),
		segmenter:     segment.New(),
		defaultFamily: defaultFamily,
		logger:        logger,
	}
}

// Process claims the page, extracts it and patches the result in. Requests
// for an unknown document, an out-of-range page or a family without a stored
// run are rejected before the page is claimed. An extraction failure leaves
// the page failed and the stored rows untouched.
func (f *PageReextractorFunction) Process(ctx context.Context, req *models.PageReextractRequest) (*models.PageReextractResponse, error) {
	family := req.ModelFamily
	if family == "" {
		family = f.defaultFamily
	}
	logCtx := f.logger.With("documentId", req.DocumentID, "page", req.PageNumber, "modelFamily", family, "executionId", req.ExecutionID)
	logCtx.Info("Starting page re-extraction.")

	pdf, err := f.precheck(ctx, req.DocumentID, req.PageNumber, family)
	if err != nil {
		logCtx.Warn("Re-extraction request rejected.", "error", err)
		return nil, err
	}

	if err := f.patcher.Begin(ctx, req.DocumentID, req.PageNumber); err != nil {
		logCtx.Warn("Page cannot be claimed.", "error", err)
		return nil, err
	}
	if err := f.patcher.MarkProcessing(ctx, req.DocumentID, req.PageNumber); err != nil {
		return nil, f.fail(ctx, logCtx, req, "failed to mark page processing", err)
	}

	unit, err := f.segmenter.Page(pdf, req.PageNumber)
	if err != nil {
		return nil, f.fail(ctx, logCtx, req, "failed to isolate page", err)
	}
	rows, err := f.extractor.Extract(ctx, unit)
	if err != nil {
		return nil, f.fail(ctx, logCtx, req, "extraction failed", err)
	}

	// Every row of a single-page unit belongs to that page.
	fresh := extraction.Aggregate([]extraction.UnitResult{{
		Ordinal: unit.Ordinal, FirstPage: unit.FirstPage, PageSpan: unit.PageSpan, Rows: rows,
	}}).Rows

	res, err := f.patcher.Apply(ctx, req.DocumentID, req.PageNumber, family, fresh)
	if err != nil {
		return nil, f.fail(ctx, logCtx, req, "failed to apply patch", err)
	}
	return &models.PageReextractResponse{
		Status:       "success",
		RunID:        res.Run.ID,
		IngressCount: len(fresh.Ingress),
		EgressCount:  len(fresh.Egress),
		Validated:    res.ValidatedPatched,
	}, nil
}

func (f *PageReextractorFunction) fail(ctx context.Context, logCtx *slog.Logger, req *models.PageReextractRequest, message string, cause error) error {
	logCtx.Error(message, "error", cause)
	wrapped := fmt.Errorf("%s: %w", message, cause)
	_ = f.patcher.Fail(ctx, req.DocumentID, req.PageNumber, wrapped)
	return wrapped
}

// precheck validates the request against stored state without mutating it
// and returns the source PDF. The page range comes from the document, or
// from the PDF itself when the page count was never recorded.
func (f *PageReextractorFunction) precheck(ctx context.Context, documentID string, page int, family string) ([]byte, error) {
	doc, err := f.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page %d", common.ErrInvalidPage, page)
	}
	if f.extractor == nil {
		return nil, common.ErrExtractorUnavailable
	}

	runs, err := f.store.ListRuns(ctx, documentID)
	if err != nil {
		return nil, common.WrapError(err, "failed to list runs")
	}
	if !slices.ContainsFunc(runs, func(r models.ExtractionRun) bool { return family == "" || r.ModelFamily == family }) {
		return nil, fmt.Errorf("%w: document %s family %q", common.ErrNoStoredRun, documentID, family)
	}

	pdf, err := f.blobs.Get(ctx, blobstore.SourceObject(documentID))
	if err != nil {
		return nil, common.WrapError(err, "failed to read source PDF")
	}
	pageCount := doc.PageCount
	if pageCount <= 0 {
		if pageCount, err = f.segmenter.PageCount(pdf); err != nil {
			return nil, err
		}
	}
	if page > pageCount {
		return nil, fmt.Errorf("%w: page %d of %d", common.ErrInvalidPage, page, pageCount)
	}
	return pdf, nil
}
