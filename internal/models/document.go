package models

import (
	"strconv"
	"time"
)

// Document lifecycle states. A document is processing for at most one
// top-level extraction at a time.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Per-page re-extraction states. An idle page has no entry at all.
const (
	PageStatusPending    = "pending"
	PageStatusProcessing = "processing"
	PageStatusFailed     = "failed"
)

// SourceDocument represents the main record for an uploaded disclosure in Firestore.
// The PDF bytes live in the blob store under the document ID.
type SourceDocument struct {
	ID                  string            `firestore:"-" json:"id"`
	FileHash            string            `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	OriginalFilename    string            `firestore:"originalFilename,omitempty" json:"originalFilename,omitempty"`
	Status              string            `firestore:"status,omitempty" json:"status,omitempty"`
	ErrorDetails        string            `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	PageCount           int               `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	PageRotations       map[string]int    `firestore:"pageRotations,omitempty" json:"pageRotations,omitempty"` // display only
	PageStatus          map[string]string `firestore:"pageStatus,omitempty" json:"pageStatus,omitempty"`
	PageErrors          map[string]string `firestore:"pageErrors,omitempty" json:"pageErrors,omitempty"`
	WorkflowExecutionID string            `firestore:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time         `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt           time.Time         `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// PageKey is the map key used for per-page metadata. Firestore map keys must be strings.
func PageKey(page int) string {
	return strconv.Itoa(page)
}

// PageState returns the re-extraction state of a page, or "" when idle.
func (d *SourceDocument) PageState(page int) string {
	if d.PageStatus == nil {
		return ""
	}
	return d.PageStatus[PageKey(page)]
}
