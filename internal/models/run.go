package models

import "time"

// ExtractionRun is one complete extraction pass over a document by one model.
// A single-page re-extraction rewrites the latest run of a model family in place.
type ExtractionRun struct {
	ID            string    `firestore:"-" json:"id"`
	DocumentID    string    `firestore:"documentId" json:"documentId"`
	ModelIdentity string    `firestore:"modelIdentity" json:"modelIdentity"`
	ModelFamily   string    `firestore:"modelFamily" json:"modelFamily"`
	Rows          RowSet    `firestore:"rows" json:"rows"`
	FailedPages   []int     `firestore:"failedPages,omitempty" json:"failedPages,omitempty"`
	Source        string    `firestore:"source,omitempty" json:"source,omitempty"` // "sync" or "batch:<jobName>"
	CompletedAt   time.Time `firestore:"completedAt" json:"completedAt"`
	UpdatedAt     time.Time `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// ValidatedDataset is the human-reviewed row set for a document. Once it
// exists it takes precedence over every ExtractionRun for display.
type ValidatedDataset struct {
	DocumentID  string    `firestore:"documentId" json:"documentId"`
	Rows        RowSet    `firestore:"rows" json:"rows"`
	ValidatedBy string    `firestore:"validatedBy,omitempty" json:"validatedBy,omitempty"`
	ValidatedAt time.Time `firestore:"validatedAt" json:"validatedAt"`
}

// Batch job states as tracked by the orchestrator.
const (
	BatchSubmitted = "submitted"
	BatchRunning   = "running"
	BatchSucceeded = "succeeded"
	BatchFailed    = "failed"
	BatchCancelled = "cancelled"
	BatchExpired   = "expired"
)

// IsTerminalBatchState reports whether no further state change can happen.
func IsTerminalBatchState(state string) bool {
	switch state {
	case BatchSucceeded, BatchFailed, BatchCancelled, BatchExpired:
		return true
	}
	return false
}

// BatchJob is persisted as soon as the batch service accepts a submission.
type BatchJob struct {
	JobName        string         `firestore:"jobName" json:"jobName"`
	DocumentIDs    []string       `firestore:"documentIds" json:"documentIds"`
	RequestKeys    []string       `firestore:"requestKeys" json:"requestKeys"`
	PageCounts     map[string]int `firestore:"pageCounts" json:"pageCounts"` // documentId -> pages
	ChunkSize      int            `firestore:"chunkSize" json:"chunkSize"`
	ModelIdentity  string         `firestore:"modelIdentity" json:"modelIdentity"`
	ModelFamily    string         `firestore:"modelFamily" json:"modelFamily"`
	State          string         `firestore:"state" json:"state"`
	ResultLocation string         `firestore:"resultLocation,omitempty" json:"resultLocation,omitempty"`
	Error          string         `firestore:"error,omitempty" json:"error,omitempty"`
	SubmittedAt    time.Time      `firestore:"submittedAt" json:"submittedAt"`
	UpdatedAt      time.Time      `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}
