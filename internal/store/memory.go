package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by the operator CLI and tests.
// Values are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*models.SourceDocument
	runs      map[string][]models.ExtractionRun // documentId -> runs in save order
	validated map[string]*models.ValidatedDataset
	jobs      map[string]*models.BatchJob
	now       func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]*models.SourceDocument),
		runs:      make(map[string][]models.ExtractionRun),
		validated: make(map[string]*models.ValidatedDataset),
		jobs:      make(map[string]*models.BatchJob),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *models.SourceDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := cloneDoc(doc)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := s.docs[d.ID]; exists {
		return "", fmt.Errorf("document %s already exists", d.ID)
	}
	if d.Status == "" {
		d.Status = models.StatusPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.docs[d.ID] = d
	return d.ID, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*models.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, docNotFound(id)
	}
	return cloneDoc(d), nil
}

func (s *MemoryStore) FindDocumentByHash(_ context.Context, fileHash string) (*models.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range slices.Sorted(maps.Keys(s.docs)) {
		if s.docs[id].FileHash == fileHash {
			return cloneDoc(s.docs[id]), nil
		}
	}
	return nil, fmt.Errorf("%w: no document with hash %s", common.ErrDocumentNotFound, fileHash)
}

func (s *MemoryStore) ListDocumentsByStatus(_ context.Context, status string) ([]models.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.SourceDocument{}
	for _, d := range s.docs {
		if d.Status == status {
			out = append(out, *cloneDoc(d))
		}
	}
	slices.SortFunc(out, func(a, b models.SourceDocument) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) BeginProcessing(_ context.Context, id string) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		if d.Status == models.StatusProcessing {
			return fmt.Errorf("%w: document %s is processing", common.ErrAlreadyInProgress, id)
		}
		d.Status = models.StatusProcessing
		d.ErrorDetails = ""
		return nil
	})
}

func (s *MemoryStore) SetDocumentStatus(_ context.Context, id, status, errorDetails string) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		d.Status = status
		d.ErrorDetails = errorDetails
		return nil
	})
}

func (s *MemoryStore) SetPageCount(_ context.Context, id string, pageCount int) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		d.PageCount = pageCount
		return nil
	})
}

func (s *MemoryStore) SetWorkflowExecution(_ context.Context, id, executionName string) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		d.WorkflowExecutionID = executionName
		return nil
	})
}

func (s *MemoryStore) SetPageRotation(_ context.Context, id string, page, degrees int) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		if d.PageRotations == nil {
			d.PageRotations = make(map[string]int)
		}
		d.PageRotations[models.PageKey(page)] = degrees
		return nil
	})
}

func (s *MemoryStore) AcquirePage(_ context.Context, id string, page int) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		if err := checkPageGate(d, page); err != nil {
			return err
		}
		setPage(d, page, models.PageStatusPending, "")
		return nil
	})
}

func (s *MemoryStore) SetPageStatus(_ context.Context, id string, page int, status, errMsg string) error {
	return s.updateDoc(id, func(d *models.SourceDocument) error {
		setPage(d, page, status, errMsg)
		return nil
	})
}

func (s *MemoryStore) updateDoc(id string, fn func(*models.SourceDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return docNotFound(id)
	}
	next := cloneDoc(d)
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	s.docs[id] = next
	return nil
}

func setPage(d *models.SourceDocument, page int, status, errMsg string) {
	key := models.PageKey(page)
	if status == "" {
		delete(d.PageStatus, key)
	} else {
		if d.PageStatus == nil {
			d.PageStatus = make(map[string]string)
		}
		d.PageStatus[key] = status
	}
	if errMsg == "" {
		delete(d.PageErrors, key)
	} else {
		if d.PageErrors == nil {
			d.PageErrors = make(map[string]string)
		}
		d.PageErrors[key] = errMsg
	}
}

func (s *MemoryStore) SaveRun(_ context.Context, run *models.ExtractionRun) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := cloneRun(*run)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = s.now()
	}
	s.runs[r.DocumentID] = append(s.runs[r.DocumentID], r)
	return r.ID, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, documentID string) ([]models.ExtractionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExtractionRun, 0, len(s.runs[documentID]))
	for _, r := range s.runs[documentID] {
		out = append(out, cloneRun(r))
	}
	slices.SortStableFunc(out, func(a, b models.ExtractionRun) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateLatestRun(_ context.Context, documentID, family string, fn func(*models.ExtractionRun) error) (*models.ExtractionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[documentID]
	i := latestIndex(runs, family)
	if i < 0 {
		return nil, fmt.Errorf("%w: document %s family %q", common.ErrNoStoredRun, documentID, family)
	}
	next := cloneRun(runs[i])
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	runs[i] = next
	out := cloneRun(next)
	return &out, nil
}

func (s *MemoryStore) GetValidated(_ context.Context, documentID string) (*models.ValidatedDataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.validated[documentID]
	if !ok {
		return nil, nil
	}
	out := *ds
	out.Rows = cloneRows(ds.Rows)
	return &out, nil
}

func (s *MemoryStore) SaveValidated(_ context.Context, ds *models.ValidatedDataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *ds
	out.Rows = cloneRows(ds.Rows).Validated()
	if out.ValidatedAt.IsZero() {
		out.ValidatedAt = s.now()
	}
	s.validated[ds.DocumentID] = &out
	return nil
}

func (s *MemoryStore) UpdateValidated(_ context.Context, documentID string, fn func(*models.ValidatedDataset) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.validated[documentID]
	if !ok {
		return false, nil
	}
	next := *ds
	next.Rows = cloneRows(ds.Rows)
	if err := fn(&next); err != nil {
		return true, err
	}
	next.Rows = next.Rows.Validated()
	s.validated[documentID] = &next
	return true, nil
}

func (s *MemoryStore) SaveBatchJob(_ context.Context, job *models.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	j.DocumentIDs = slices.Clone(job.DocumentIDs)
	j.RequestKeys = slices.Clone(job.RequestKeys)
	j.PageCounts = maps.Clone(job.PageCounts)
	j.UpdatedAt = s.now()
	s.jobs[job.JobName] = &j
	return nil
}

func (s *MemoryStore) GetBatchJob(_ context.Context, jobName string) (*models.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrBatchJobNotFound, jobName)
	}
	out := *j
	out.DocumentIDs = slices.Clone(j.DocumentIDs)
	out.RequestKeys = slices.Clone(j.RequestKeys)
	out.PageCounts = maps.Clone(j.PageCounts)
	return &out, nil
}

func cloneDoc(d *models.SourceDocument) *models.SourceDocument {
	out := *d
	out.PageRotations = maps.Clone(d.PageRotations)
	out.PageStatus = maps.Clone(d.PageStatus)
	out.PageErrors = maps.Clone(d.PageErrors)
	return &out
}

func cloneRun(r models.ExtractionRun) models.ExtractionRun {
	r.Rows = cloneRows(r.Rows)
	r.FailedPages = slices.Clone(r.FailedPages)
	return r
}

func cloneRows(rs models.RowSet) models.RowSet {
	out := models.NewRowSet()
	out.Ingress = append(out.Ingress, rs.Ingress...)
	out.Egress = append(out.Egress, rs.Egress...)
	return out
}
