package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/reconcile"
	"github.com/Lllllllleong/disclosureflow/internal/store"
)

// ReviewFunction serves the review surface: merged views, model diffs and
// saving the human-validated dataset.
type ReviewFunction struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReview wires the function from the environment.
func NewReview(ctx context.Context) (*ReviewFunction, error) {
	env, err := LoadEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := env.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	return NewReviewWith(st, nil), nil
}

func NewReviewWith(st store.Store, logger *slog.Logger) *ReviewFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewFunction{store: st, logger: logger, now: time.Now}
}

// View returns the validated dataset when one exists and the union of all
// runs otherwise, with a diff when two model identities are named.
func (f *ReviewFunction) View(ctx context.Context, req *models.ReviewViewRequest) (*models.ReviewViewResponse, error) {
	if _, err := f.store.GetDocument(ctx, req.DocumentID); err != nil {
		return nil, err
	}
	validated, err := f.store.GetValidated(ctx, req.DocumentID)
	if err != nil {
		return nil, common.WrapError(err, "failed to read validated dataset")
	}
	runs, err := f.store.ListRuns(ctx, req.DocumentID)
	if err != nil {
		return nil, common.WrapError(err, "failed to list runs")
	}
	if validated == nil && len(runs) == 0 {
		return nil, fmt.Errorf("%w: document %s", common.ErrNoStoredRun, req.DocumentID)
	}

	v := reconcile.BuildView(validated, runs, req.Preference, reconcile.DiffPair{A: req.DiffA, B: req.DiffB})
	return &models.ReviewViewResponse{
		DocumentID:  req.DocumentID,
		Source:      v.Source,
		Rows:        v.Rows,
		IngressDiff: v.IngressDiff,
		EgressDiff:  v.EgressDiff,
	}, nil
}

// SaveValidated stores the reviewed rows. AI-declared unreadable fields
// are dropped; human-flagged ones are kept.
func (f *ReviewFunction) SaveValidated(ctx context.Context, req *models.SaveValidatedRequest) (*models.SaveValidatedResponse, error) {
	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	rows := req.Rows.Validated()
	if err := checkRowPages(rows, doc.PageCount); err != nil {
		return nil, err
	}
	ds := &models.ValidatedDataset{
		DocumentID:  req.DocumentID,
		Rows:        rows,
		ValidatedBy: req.ValidatedBy,
		ValidatedAt: f.now(),
	}
	if err := f.store.SaveValidated(ctx, ds); err != nil {
		return nil, common.WrapError(err, "failed to save validated dataset")
	}
	f.logger.Info("Validated dataset saved.", "documentId", req.DocumentID, "validatedBy", req.ValidatedBy,
		"ingressRows", len(rows.Ingress), "egressRows", len(rows.Egress))
	return &models.SaveValidatedResponse{
		Status:       "success",
		IngressCount: len(rows.Ingress),
		EgressCount:  len(rows.Egress),
	}, nil
}

// RotatePage stores display rotation for a page.
func (f *ReviewFunction) RotatePage(ctx context.Context, req *models.RotatePageRequest) error {
	doc, err := f.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return err
	}
	if req.PageNumber < 1 || (doc.PageCount > 0 && req.PageNumber > doc.PageCount) {
		return fmt.Errorf("%w: page %d", common.ErrInvalidPage, req.PageNumber)
	}
	if req.Degrees%90 != 0 {
		return fmt.Errorf("%w: rotation must be a multiple of 90, got %d", common.ErrInvalidPage, req.Degrees)
	}
	return f.store.SetPageRotation(ctx, req.DocumentID, req.PageNumber, ((req.Degrees%360)+360)%360)
}

// Status summarizes a document and its runs.
func (f *ReviewFunction) Status(ctx context.Context, documentID string) (*models.DocumentStatusResponse, error) {
	doc, err := f.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	runs, err := f.store.ListRuns(ctx, documentID)
	if err != nil {
		return nil, common.WrapError(err, "failed to list runs")
	}
	validated, err := f.store.GetValidated(ctx, documentID)
	if err != nil {
		return nil, common.WrapError(err, "failed to read validated dataset")
	}
	resp := &models.DocumentStatusResponse{Document: *doc, Runs: []models.RunSummary{}, HasValidated: validated != nil}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, models.RunSummary{
			ID:            r.ID,
			ModelIdentity: r.ModelIdentity,
			ModelFamily:   r.ModelFamily,
			Source:        r.Source,
			IngressCount:  len(r.Rows.Ingress),
			EgressCount:   len(r.Rows.Egress),
			FailedPages:   r.FailedPages,
		})
	}
	return resp, nil
}

func checkRowPages(rows models.RowSet, pageCount int) error {
	check := func(p int) error {
		if p < 1 || (pageCount > 0 && p > pageCount) {
			return fmt.Errorf("%w: row on page %d", common.ErrInvalidPage, p)
		}
		return nil
	}
	for _, r := range rows.Ingress {
		if err := check(r.PageNumber); err != nil {
			return err
		}
	}
	for _, r := range rows.Egress {
		if err := check(r.PageNumber); err != nil {
			return err
		}
	}
	return nil
}
