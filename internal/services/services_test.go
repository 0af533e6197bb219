package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/batch"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
	"github.com/Lllllllleong/disclosureflow/internal/store"
	"github.com/Lllllllleong/disclosureflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testModel  = "gemini-2.5-flash"
	testFamily = "gemini"
)

func str(s string) *string { return &s }

func receiptRows(receipt string) models.RowSet {
	total := 10.0
	return models.RowSet{
		Ingress: []models.IngressRow{{PageNumber: 1, ReceiptNumber: str(receipt), Total: &total}},
		Egress:  []models.EgressRow{},
	}
}

// pageExtractor returns one ingress row per page, receipt "R-<page>",
// and fails on the pages listed in failOn.
func pageExtractor(failOn ...int) extraction.ExtractorFunc {
	return func(_ context.Context, unit segment.Unit) (models.RowSet, error) {
		for _, p := range failOn {
			if unit.FirstPage == p {
				return models.RowSet{}, fmt.Errorf("model timeout on page %d", p)
			}
		}
		return receiptRows(fmt.Sprintf("R-%d", unit.FirstPage)), nil
	}
}

type fakeLauncher struct {
	args []any
	err  error
}

func (f *fakeLauncher) Launch(_ context.Context, argument any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.args = append(f.args, argument)
	return "executions/1", nil
}

type fixture struct {
	store *store.MemoryStore
	blobs *blobstore.MemoryStore
}

func newFixture() fixture {
	return fixture{store: store.NewMemoryStore(), blobs: blobstore.NewMemoryStore("test")}
}

func (fx fixture) extractor(ex extraction.Extractor, launcher WorkflowLauncher, threshold int) *DocumentExtractorFunction {
	return NewDocumentExtractorWith(DocumentExtractorDeps{
		Store:     fx.store,
		Blobs:     fx.blobs,
		Extractor: ex,
		Workflows: launcher,
	}, DocumentExtractorConfig{
		ModelIdentity:      testModel,
		ModelFamily:        testFamily,
		BatchPageThreshold: threshold,
	})
}

func receipts(rows []models.IngressRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprintf("%d:%s", r.PageNumber, *r.ReceiptNumber))
	}
	return out
}

func TestIngestFailedUnitStillCompletesDocument(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	f := fx.extractor(pageExtractor(2), nil, 0)

	res, err := f.Ingest(ctx, "disclosure.pdf", testutil.BuildPDF(3))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, []int{2}, res.FailedPages)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, 3, doc.PageCount)

	runs, err := fx.store.ListRuns(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"1:R-1", "3:R-3"}, receipts(runs[0].Rows.Ingress))
	assert.Equal(t, []int{2}, runs[0].FailedPages)
	assert.Equal(t, SourceSync, runs[0].Source)
	assert.Equal(t, testModel, runs[0].ModelIdentity)

	_, err = fx.blobs.Get(ctx, blobstore.SourceObject(res.DocumentID))
	assert.NoError(t, err)
}

func TestIngestDuplicateIsSkipped(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	var calls atomic.Int32
	ex := extraction.ExtractorFunc(func(_ context.Context, unit segment.Unit) (models.RowSet, error) {
		calls.Add(1)
		return models.NewRowSet(), nil
	})
	f := fx.extractor(ex, nil, 0)
	pdf := testutil.BuildPDF(2)

	first, err := f.Ingest(ctx, "a.pdf", pdf)
	require.NoError(t, err)
	second, err := f.Ingest(ctx, "copy-of-a.pdf", pdf)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIngestMalformedDocumentFails(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	f := fx.extractor(pageExtractor(), nil, 0)

	_, err := f.Ingest(ctx, "broken.pdf", []byte("not a pdf"))
	require.ErrorIs(t, err, common.ErrMalformedDocument)

	docs, err := fx.store.ListDocumentsByStatus(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].ErrorDetails, "failed to get page count")

	runs, err := fx.store.ListRuns(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIngestWithoutExtractorFails(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	f := fx.extractor(nil, nil, 0)

	_, err := f.Ingest(ctx, "a.pdf", testutil.BuildPDF(1))
	require.ErrorIs(t, err, common.ErrExtractorUnavailable)

	docs, err := fx.store.ListDocumentsByStatus(ctx, models.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestLargeDocumentHandsOffToWorkflow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	launcher := &fakeLauncher{}
	f := fx.extractor(pageExtractor(), launcher, 2)

	res, err := f.Ingest(ctx, "big.pdf", testutil.BuildPDF(3))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Status)
	assert.Equal(t, "executions/1", res.WorkflowExecution)
	require.Len(t, launcher.args, 1)
	assert.Equal(t, map[string]any{"documentId": res.DocumentID, "pageCount": 3, "modelFamily": testFamily}, launcher.args[0])

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Equal(t, "executions/1", doc.WorkflowExecutionID)

	runs, err := fx.store.ListRuns(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIngestWorkflowFailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	f := fx.extractor(pageExtractor(), &fakeLauncher{err: errors.New("permission denied")}, 1)

	res, err := f.Ingest(ctx, "big.pdf", testutil.BuildPDF(2))
	require.Error(t, err)
	assert.Nil(t, res)

	docs, err := fx.store.ListDocumentsByStatus(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].ErrorDetails, "failed to trigger workflow execution")
}

func TestExtractRejectsDocumentAlreadyProcessing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h"})
	require.NoError(t, err)
	require.NoError(t, fx.store.BeginProcessing(ctx, id))

	_, err = fx.extractor(pageExtractor(), nil, 0).Extract(ctx, id)
	assert.ErrorIs(t, err, common.ErrAlreadyInProgress)
}

func TestProcessFetchesUploadedObject(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	uploads := blobstore.NewMemoryStore("uploads")
	require.NoError(t, uploads.Put(ctx, "inbox/a.pdf", testutil.BuildPDF(1), "application/pdf"))

	f := NewDocumentExtractorWith(DocumentExtractorDeps{
		Store: fx.store,
		Blobs: fx.blobs,
		Fetch: func(ctx context.Context, bucket, object string) ([]byte, error) {
			assert.Equal(t, "uploads", bucket)
			return uploads.Get(ctx, object)
		},
		Extractor: pageExtractor(),
	}, DocumentExtractorConfig{ModelIdentity: testModel, ModelFamily: testFamily})

	require.NoError(t, f.Process(ctx, GCSEvent{Bucket: "uploads", Name: "inbox/a.pdf"}))
	docs, err := fx.store.ListDocumentsByStatus(ctx, models.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "inbox/a.pdf", docs[0].OriginalFilename)
}

func TestReextractPatchesFailedPage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(2), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(3))
	require.NoError(t, err)

	f := NewPageReextractorWith(fx.store, fx.blobs, pageExtractor(), testFamily, nil)
	out, err := f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, res.RunID, out.RunID)
	assert.Equal(t, 1, out.IngressCount)
	assert.False(t, out.Validated)

	runs, err := fx.store.ListRuns(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	// Patched rows follow the untouched pages.
	assert.Equal(t, []string{"1:R-1", "3:R-3", "2:R-2"}, receipts(runs[0].Rows.Ingress))
	assert.Empty(t, runs[0].FailedPages)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "", doc.PageState(2))
}

func TestReextractPatchesValidatedDataset(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(2))
	require.NoError(t, err)

	review := NewReviewWith(fx.store, nil)
	_, err = review.SaveValidated(ctx, &models.SaveValidatedRequest{
		DocumentID: res.DocumentID,
		Rows: models.RowSet{Ingress: []models.IngressRow{
			{PageNumber: 1, ReceiptNumber: str("R-1-reviewed")},
			{PageNumber: 2, ReceiptNumber: str("stale")},
		}},
	})
	require.NoError(t, err)

	f := NewPageReextractorWith(fx.store, fx.blobs, pageExtractor(), "", nil)
	out, err := f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 2})
	require.NoError(t, err)
	assert.True(t, out.Validated)

	ds, err := fx.store.GetValidated(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:R-1-reviewed", "2:R-2"}, receipts(ds.Rows.Ingress))
}

func TestReextractFailureLeavesRowsAndMarksPage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(2))
	require.NoError(t, err)

	f := NewPageReextractorWith(fx.store, fx.blobs, pageExtractor(2), testFamily, nil)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 2})
	require.Error(t, err)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.PageStatusFailed, doc.PageState(2))
	assert.Contains(t, doc.PageErrors[models.PageKey(2)], "extraction failed")

	runs, err := fx.store.ListRuns(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:R-1", "2:R-2"}, receipts(runs[0].Rows.Ingress))

	// A failed page can be retried.
	f = NewPageReextractorWith(fx.store, fx.blobs, pageExtractor(), testFamily, nil)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 2})
	assert.NoError(t, err)
}

func TestReextractRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(2))
	require.NoError(t, err)
	f := NewPageReextractorWith(fx.store, fx.blobs, pageExtractor(), testFamily, nil)

	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 0})
	assert.ErrorIs(t, err, common.ErrInvalidPage)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 3})
	assert.ErrorIs(t, err, common.ErrInvalidPage)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: "missing", PageNumber: 1})
	assert.ErrorIs(t, err, common.ErrDocumentNotFound)

	require.NoError(t, fx.store.AcquirePage(ctx, res.DocumentID, 1))
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 1})
	assert.ErrorIs(t, err, common.ErrAlreadyInProgress)
}

// countingExtractor counts calls to the wrapped extractor.
func countingExtractor(ex extraction.ExtractorFunc, calls *atomic.Int32) extraction.ExtractorFunc {
	return func(ctx context.Context, unit segment.Unit) (models.RowSet, error) {
		calls.Add(1)
		return ex(ctx, unit)
	}
}

func TestReextractWithoutRunLeavesPageIdle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h", PageCount: 1})
	require.NoError(t, err)
	require.NoError(t, fx.blobs.Put(ctx, blobstore.SourceObject(id), testutil.BuildPDF(1), "application/pdf"))

	var calls atomic.Int32
	f := NewPageReextractorWith(fx.store, fx.blobs, countingExtractor(pageExtractor(), &calls), testFamily, nil)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: id, PageNumber: 1})
	require.ErrorIs(t, err, common.ErrNoStoredRun)
	assert.Zero(t, calls.Load())

	doc, err := fx.store.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, doc.PageStatus)
}

func TestReextractPageBeyondSourceWithoutPageCount(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h"})
	require.NoError(t, err)
	require.NoError(t, fx.blobs.Put(ctx, blobstore.SourceObject(id), testutil.BuildPDF(1), "application/pdf"))
	_, err = fx.store.SaveRun(ctx, &models.ExtractionRun{
		DocumentID: id, ModelIdentity: testModel, ModelFamily: testFamily, Rows: receiptRows("R-1"),
	})
	require.NoError(t, err)

	var calls atomic.Int32
	f := NewPageReextractorWith(fx.store, fx.blobs, countingExtractor(pageExtractor(), &calls), testFamily, nil)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: id, PageNumber: 7})
	require.ErrorIs(t, err, common.ErrInvalidPage)
	assert.Zero(t, calls.Load())

	doc, err := fx.store.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, doc.PageStatus)

	// The page that exists is still served.
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: id, PageNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReextractWithoutExtractorLeavesPageIdle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(1))
	require.NoError(t, err)

	f := NewPageReextractorWith(fx.store, fx.blobs, nil, testFamily, nil)
	_, err = f.Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 1})
	require.ErrorIs(t, err, common.ErrExtractorUnavailable)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "", doc.PageState(1))
}

// batchService answers every submitted request with one ingress row keyed
// by the request, except for the keys listed in failKeys.
type batchService struct {
	mu       sync.Mutex
	requests []batch.Request
	state    string
	failKeys map[string]bool
}

func (s *batchService) Submit(_ context.Context, _ string, requests []batch.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = requests
	return "jobs/7", nil
}

func (s *batchService) Status(context.Context, string) (batch.JobStatus, error) {
	return batch.JobStatus{State: s.state, ResultLocation: "mem://out/"}, nil
}

func (s *batchService) Results(context.Context, *models.BatchJob) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, r := range s.requests {
		var line []byte
		if s.failKeys[r.Key] {
			line, _ = json.Marshal(map[string]any{"key": r.Key, "status": "INTERNAL"})
		} else {
			text, _ := json.Marshal(receiptRows(fmt.Sprintf("R-%d", r.Unit.FirstPage)))
			line, _ = json.Marshal(map[string]any{
				"key": r.Key,
				"response": map[string]any{"candidates": []any{map[string]any{
					"content": map[string]any{"parts": []any{map[string]any{"text": string(text)}}},
				}}},
			})
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func TestBatchSubmitAndCollect(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	launcher := &fakeLauncher{}
	res, err := fx.extractor(pageExtractor(), launcher, 1).Ingest(ctx, "big.pdf", testutil.BuildPDF(3))
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, res.Status)

	svc := &batchService{state: models.BatchSucceeded}
	f := NewBatchOrchestratorWith(fx.store, fx.blobs, svc, batch.Config{
		PollInterval:  time.Millisecond,
		ModelIdentity: testModel,
		ModelFamily:   testFamily,
	}, nil)

	sub, err := f.Submit(ctx, &models.SubmitBatchRequest{DocumentIDs: []string{res.DocumentID}})
	require.NoError(t, err)
	assert.Equal(t, "jobs/7", sub.JobName)
	assert.Equal(t, 3, sub.RequestCount)
	svc.failKeys = map[string]bool{batch.FormatKey(res.DocumentID, 1): true}

	col, err := f.Collect(ctx, &models.CollectBatchRequest{JobName: sub.JobName})
	require.NoError(t, err)
	assert.Equal(t, models.BatchSucceeded, col.State)
	require.Contains(t, col.RunIDs, res.DocumentID)

	runs, err := fx.store.ListRuns(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"1:R-1", "3:R-3"}, receipts(runs[0].Rows.Ingress))
	assert.Equal(t, []int{2}, runs[0].FailedPages)
	assert.Equal(t, BatchSourcePrefix+"jobs/7", runs[0].Source)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
}

func TestBatchCollectTerminalFailureFailsDocuments(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	res, err := fx.extractor(pageExtractor(), nil, 0).Ingest(ctx, "a.pdf", testutil.BuildPDF(1))
	require.NoError(t, err)

	svc := &batchService{state: models.BatchExpired}
	f := NewBatchOrchestratorWith(fx.store, fx.blobs, svc, batch.Config{PollInterval: time.Millisecond}, nil)
	sub, err := f.Submit(ctx, &models.SubmitBatchRequest{DocumentIDs: []string{res.DocumentID}})
	require.NoError(t, err)

	doc, err := fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)

	col, err := f.Collect(ctx, &models.CollectBatchRequest{JobName: sub.JobName})
	require.ErrorIs(t, err, common.ErrBatchJobTerminalFailure)
	assert.Equal(t, models.BatchExpired, col.State)

	doc, err = fx.store.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
}

func TestBatchSubmitUnknownDocument(t *testing.T) {
	fx := newFixture()
	f := NewBatchOrchestratorWith(fx.store, fx.blobs, &batchService{}, batch.Config{}, nil)
	_, err := f.Submit(context.Background(), &models.SubmitBatchRequest{DocumentIDs: []string{"nope"}})
	assert.ErrorIs(t, err, common.ErrDocumentNotFound)
}

func TestReviewViewIgnoresSupersededRun(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	ex := fx.extractor(pageExtractor(), nil, 0)
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ex.now = func() time.Time { return t0 }
	res, err := ex.Ingest(ctx, "a.pdf", testutil.BuildPDF(3))
	require.NoError(t, err)

	ex.now = func() time.Time { return t0.Add(time.Hour) }
	_, err = ex.Extract(ctx, res.DocumentID)
	require.NoError(t, err)

	empty := extraction.ExtractorFunc(func(context.Context, segment.Unit) (models.RowSet, error) {
		return models.NewRowSet(), nil
	})
	_, err = NewPageReextractorWith(fx.store, fx.blobs, empty, testFamily, nil).
		Process(ctx, &models.PageReextractRequest{DocumentID: res.DocumentID, PageNumber: 2})
	require.NoError(t, err)

	view, err := NewReviewWith(fx.store, nil).View(ctx, &models.ReviewViewRequest{DocumentID: res.DocumentID})
	require.NoError(t, err)
	assert.Equal(t, []string{"1:R-1", "3:R-3"}, receipts(view.Rows.Ingress))
}

func TestReviewViewUnionThenValidated(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h", PageCount: 4})
	require.NoError(t, err)

	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	total := 100.0
	otherTotal := 150.0
	_, err = fx.store.SaveRun(ctx, &models.ExtractionRun{
		DocumentID: id, ModelIdentity: "model-a", ModelFamily: "a", CompletedAt: t0,
		Rows: models.RowSet{Ingress: []models.IngressRow{{PageNumber: 4, ReceiptNumber: str("R-001"), Total: &total}}},
	})
	require.NoError(t, err)
	_, err = fx.store.SaveRun(ctx, &models.ExtractionRun{
		DocumentID: id, ModelIdentity: "model-b", ModelFamily: "b", CompletedAt: t0.Add(time.Minute),
		Rows: models.RowSet{Ingress: []models.IngressRow{
			{PageNumber: 4, ReceiptNumber: str("R-001"), Total: &otherTotal},
			{PageNumber: 4, ReceiptNumber: str("R-002")},
		}},
	})
	require.NoError(t, err)

	review := NewReviewWith(fx.store, nil)
	view, err := review.View(ctx, &models.ReviewViewRequest{
		DocumentID: id, Preference: []string{"model-a"}, DiffA: "model-a", DiffB: "model-b",
	})
	require.NoError(t, err)
	assert.Equal(t, "union", view.Source)
	require.Len(t, view.Rows.Ingress, 2)
	assert.Equal(t, 100.0, *view.Rows.Ingress[0].Total)
	assert.Equal(t, []string{"total"}, view.IngressDiff["4::R-001"])

	saved, err := review.SaveValidated(ctx, &models.SaveValidatedRequest{
		DocumentID: id,
		Rows: models.RowSet{Ingress: []models.IngressRow{{
			PageNumber: 4, ReceiptNumber: str("R-001"), Total: &total,
			UnreadableFields: []string{"date"}, HumanUnreadableFields: []string{"concept"},
		}}},
		ValidatedBy: "auditor",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, saved.IngressCount)

	view, err = review.View(ctx, &models.ReviewViewRequest{DocumentID: id})
	require.NoError(t, err)
	assert.Equal(t, "validated", view.Source)
	require.Len(t, view.Rows.Ingress, 1)
	assert.Empty(t, view.Rows.Ingress[0].UnreadableFields)
	assert.Equal(t, []string{"concept"}, view.Rows.Ingress[0].HumanUnreadableFields)
	assert.NotNil(t, view.Rows.Egress)

	status, err := review.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.HasValidated)
	assert.Len(t, status.Runs, 2)
}

func TestReviewErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	review := NewReviewWith(fx.store, nil)

	_, err := review.View(ctx, &models.ReviewViewRequest{DocumentID: "missing"})
	assert.ErrorIs(t, err, common.ErrDocumentNotFound)

	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h", PageCount: 2})
	require.NoError(t, err)
	_, err = review.View(ctx, &models.ReviewViewRequest{DocumentID: id})
	assert.ErrorIs(t, err, common.ErrNoStoredRun)

	_, err = review.SaveValidated(ctx, &models.SaveValidatedRequest{
		DocumentID: id,
		Rows:       models.RowSet{Egress: []models.EgressRow{{PageNumber: 3}}},
	})
	assert.ErrorIs(t, err, common.ErrInvalidPage)
}

func TestRotatePage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	id, err := fx.store.CreateDocument(ctx, &models.SourceDocument{FileHash: "h", PageCount: 2})
	require.NoError(t, err)
	review := NewReviewWith(fx.store, nil)

	require.NoError(t, review.RotatePage(ctx, &models.RotatePageRequest{DocumentID: id, PageNumber: 2, Degrees: -90}))
	doc, err := fx.store.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 270, doc.PageRotations["2"])

	assert.ErrorIs(t, review.RotatePage(ctx, &models.RotatePageRequest{DocumentID: id, PageNumber: 3, Degrees: 90}), common.ErrInvalidPage)
	assert.ErrorIs(t, review.RotatePage(ctx, &models.RotatePageRequest{DocumentID: id, PageNumber: 1, Degrees: 45}), common.ErrInvalidPage)
}
