package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	runsCollection      = "runs"
	validatedCollection = "validated"
	validatedDocID      = "current"
)

// FirestoreStore keeps documents in one collection, with runs and the
// validated dataset as subcollections of each document, and batch jobs in
// a collection of their own.
type FirestoreStore struct {
	client    *firestore.Client
	documents string
	batchJobs string
}

// NewFirestoreStore wraps an existing client.
func NewFirestoreStore(client *firestore.Client, documentsCollection, batchJobsCollection string) *FirestoreStore {
	return &FirestoreStore{client: client, documents: documentsCollection, batchJobs: batchJobsCollection}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.documents).Doc(id)
}

func (s *FirestoreStore) runs(documentID string) *firestore.CollectionRef {
	return s.docRef(documentID).Collection(runsCollection)
}

func (s *FirestoreStore) validatedRef(documentID string) *firestore.DocumentRef {
	return s.docRef(documentID).Collection(validatedCollection).Doc(validatedDocID)
}

// Job names are resource paths; Firestore document IDs cannot contain '/'.
func (s *FirestoreStore) jobRef(jobName string) *firestore.DocumentRef {
	return s.client.Collection(s.batchJobs).Doc(strings.ReplaceAll(jobName, "/", "__"))
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) CreateDocument(ctx context.Context, doc *models.SourceDocument) (string, error) {
	d := *doc
	if d.Status == "" {
		d.Status = models.StatusPending
	}
	if d.ID != "" {
		if _, err := s.docRef(d.ID).Create(ctx, d); err != nil {
			return "", fmt.Errorf("failed to create document %s: %w", d.ID, err)
		}
		return d.ID, nil
	}
	ref, _, err := s.client.Collection(s.documents).Add(ctx, d)
	if err != nil {
		return "", fmt.Errorf("failed to create master document: %w", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	snap, err := s.docRef(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, docNotFound(id)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return decodeDoc(snap)
}

func decodeDoc(snap *firestore.DocumentSnapshot) (*models.SourceDocument, error) {
	var d models.SourceDocument
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	d.ID = snap.Ref.ID
	return &d, nil
}

func (s *FirestoreStore) FindDocumentByHash(ctx context.Context, fileHash string) (*models.SourceDocument, error) {
	docs, err := s.client.Collection(s.documents).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no document with hash %s", common.ErrDocumentNotFound, fileHash)
	}
	return decodeDoc(docs[0])
}

func (s *FirestoreStore) ListDocumentsByStatus(ctx context.Context, st string) ([]models.SourceDocument, error) {
	iter := s.client.Collection(s.documents).Where("status", "==", st).OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()
	out := []models.SourceDocument{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents with status %s: %w", st, err)
		}
		d, err := decodeDoc(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// updateDoc runs fn against the latest document state inside a transaction
// and applies the updates it returns.
func (s *FirestoreStore) updateDoc(ctx context.Context, id string, fn func(*models.SourceDocument) ([]firestore.Update, error)) error {
	ref := s.docRef(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return docNotFound(id)
			}
			return fmt.Errorf("failed to read document %s: %w", id, err)
		}
		d, err := decodeDoc(snap)
		if err != nil {
			return err
		}
		updates, err := fn(d)
		if err != nil {
			return err
		}
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: firestore.ServerTimestamp})
		return tx.Update(ref, updates)
	})
}

func (s *FirestoreStore) BeginProcessing(ctx context.Context, id string) error {
	return s.updateDoc(ctx, id, func(d *models.SourceDocument) ([]firestore.Update, error) {
		if d.Status == models.StatusProcessing {
			return nil, fmt.Errorf("%w: document %s is processing", common.ErrAlreadyInProgress, id)
		}
		return []firestore.Update{
			{Path: "status", Value: models.StatusProcessing},
			{Path: "errorDetails", Value: firestore.Delete},
		}, nil
	})
}

// SetDocumentStatus is a blind write, as in the pipeline's status updates.
func (s *FirestoreStore) SetDocumentStatus(ctx context.Context, id, st, errorDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: st},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if errorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errorDetails})
	} else {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: firestore.Delete})
	}
	return s.update(ctx, id, updates)
}

func (s *FirestoreStore) SetPageCount(ctx context.Context, id string, pageCount int) error {
	return s.update(ctx, id, []firestore.Update{{Path: "pageCount", Value: pageCount}})
}

func (s *FirestoreStore) SetWorkflowExecution(ctx context.Context, id, executionName string) error {
	return s.update(ctx, id, []firestore.Update{{Path: "workflowExecutionId", Value: executionName}})
}

func (s *FirestoreStore) SetPageRotation(ctx context.Context, id string, page, degrees int) error {
	return s.update(ctx, id, []firestore.Update{
		{FieldPath: firestore.FieldPath{"pageRotations", models.PageKey(page)}, Value: degrees},
	})
}

func (s *FirestoreStore) AcquirePage(ctx context.Context, id string, page int) error {
	return s.updateDoc(ctx, id, func(d *models.SourceDocument) ([]firestore.Update, error) {
		if err := checkPageGate(d, page); err != nil {
			return nil, err
		}
		return pageUpdates(page, models.PageStatusPending, ""), nil
	})
}

func (s *FirestoreStore) SetPageStatus(ctx context.Context, id string, page int, st, errMsg string) error {
	return s.update(ctx, id, pageUpdates(page, st, errMsg))
}

func pageUpdates(page int, st, errMsg string) []firestore.Update {
	key := models.PageKey(page)
	var statusValue, errValue any = st, errMsg
	if st == "" {
		statusValue = firestore.Delete
	}
	if errMsg == "" {
		errValue = firestore.Delete
	}
	return []firestore.Update{
		{FieldPath: firestore.FieldPath{"pageStatus", key}, Value: statusValue},
		{FieldPath: firestore.FieldPath{"pageErrors", key}, Value: errValue},
	}
}

func (s *FirestoreStore) update(ctx context.Context, id string, updates []firestore.Update) error {
	if _, err := s.docRef(id).Update(ctx, updates); err != nil {
		if isNotFound(err) {
			return docNotFound(id)
		}
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) SaveRun(ctx context.Context, run *models.ExtractionRun) (string, error) {
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.runs(run.DocumentID).Doc(id).Set(ctx, run); err != nil {
		return "", fmt.Errorf("failed to save run for document %s: %w", run.DocumentID, err)
	}
	return id, nil
}

func (s *FirestoreStore) ListRuns(ctx context.Context, documentID string) ([]models.ExtractionRun, error) {
	snaps, err := s.runs(documentID).OrderBy("completedAt", firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for document %s: %w", documentID, err)
	}
	out := make([]models.ExtractionRun, 0, len(snaps))
	for _, snap := range snaps {
		r, err := decodeRun(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRun(snap *firestore.DocumentSnapshot) (models.ExtractionRun, error) {
	var r models.ExtractionRun
	if err := snap.DataTo(&r); err != nil {
		return r, fmt.Errorf("failed to decode run %s: %w", snap.Ref.ID, err)
	}
	r.ID = snap.Ref.ID
	return r, nil
}

func (s *FirestoreStore) UpdateLatestRun(ctx context.Context, documentID, family string, fn func(*models.ExtractionRun) error) (*models.ExtractionRun, error) {
	q := s.runs(documentID).Query
	if family != "" {
		q = q.Where("modelFamily", "==", family)
	}
	q = q.OrderBy("completedAt", firestore.Desc).Limit(1)

	var updated models.ExtractionRun
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return fmt.Errorf("failed to read latest run: %w", err)
		}
		if len(snaps) == 0 {
			return fmt.Errorf("%w: document %s family %q", common.ErrNoStoredRun, documentID, family)
		}
		run, err := decodeRun(snaps[0])
		if err != nil {
			return err
		}
		if err := fn(&run); err != nil {
			return err
		}
		updated = run
		return tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "rows", Value: run.Rows},
			{Path: "failedPages", Value: run.FailedPages},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *FirestoreStore) GetValidated(ctx context.Context, documentID string) (*models.ValidatedDataset, error) {
	snap, err := s.validatedRef(documentID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read validated dataset for %s: %w", documentID, err)
	}
	var ds models.ValidatedDataset
	if err := snap.DataTo(&ds); err != nil {
		return nil, fmt.Errorf("failed to decode validated dataset for %s: %w", documentID, err)
	}
	return &ds, nil
}

func (s *FirestoreStore) SaveValidated(ctx context.Context, ds *models.ValidatedDataset) error {
	out := *ds
	out.Rows = ds.Rows.Validated()
	if _, err := s.validatedRef(ds.DocumentID).Set(ctx, out); err != nil {
		return fmt.Errorf("failed to save validated dataset for %s: %w", ds.DocumentID, err)
	}
	return nil
}

var errNoValidated = errors.New("no validated dataset")

func (s *FirestoreStore) UpdateValidated(ctx context.Context, documentID string, fn func(*models.ValidatedDataset) error) (bool, error) {
	ref := s.validatedRef(documentID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return errNoValidated
			}
			return fmt.Errorf("failed to read validated dataset: %w", err)
		}
		var ds models.ValidatedDataset
		if err := snap.DataTo(&ds); err != nil {
			return fmt.Errorf("failed to decode validated dataset: %w", err)
		}
		if err := fn(&ds); err != nil {
			return err
		}
		return tx.Set(ref, models.ValidatedDataset{
			DocumentID:  ds.DocumentID,
			Rows:        ds.Rows.Validated(),
			ValidatedBy: ds.ValidatedBy,
			ValidatedAt: ds.ValidatedAt,
		})
	})
	if errors.Is(err, errNoValidated) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, nil
}

func (s *FirestoreStore) SaveBatchJob(ctx context.Context, job *models.BatchJob) error {
	if _, err := s.jobRef(job.JobName).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to save batch job %s: %w", job.JobName, err)
	}
	return nil
}

func (s *FirestoreStore) GetBatchJob(ctx context.Context, jobName string) (*models.BatchJob, error) {
	snap, err := s.jobRef(jobName).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrBatchJobNotFound, jobName)
		}
		return nil, fmt.Errorf("failed to read batch job %s: %w", jobName, err)
	}
	var job models.BatchJob
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode batch job %s: %w", jobName, err)
	}
	return &job, nil
}
