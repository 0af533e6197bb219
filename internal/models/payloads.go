package models

// These structs define the JSON payloads for HTTP requests and responses
// between the Cloud Workflow, the review UI and the worker Cloud Functions.

// PageReextractRequest is the input for the page-reextractor function.
type PageReextractRequest struct {
	DocumentID  string `json:"documentId"`
	PageNumber  int    `json:"pageNumber"`
	ModelFamily string `json:"modelFamily,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// PageReextractResponse is the output of the page-reextractor function.
type PageReextractResponse struct {
	Status       string `json:"status"`
	RunID        string `json:"runId"`
	IngressCount int    `json:"ingressCount"`
	EgressCount  int    `json:"egressCount"`
	Validated    bool   `json:"validatedPatched"`
}

// SubmitBatchRequest is the input for the batch submission function.
type SubmitBatchRequest struct {
	DocumentIDs []string `json:"documentIds"`
	ChunkSize   int      `json:"chunkSize,omitempty"`
	ExecutionID string   `json:"executionId,omitempty"`
}

// SubmitBatchResponse is the output of the batch submission function.
type SubmitBatchResponse struct {
	Status       string `json:"status"`
	JobName      string `json:"jobName"`
	RequestCount int    `json:"requestCount"`
}

// CollectBatchRequest is the input for the batch collection function.
type CollectBatchRequest struct {
	JobName     string `json:"jobName"`
	ExecutionID string `json:"executionId,omitempty"`
}

// CollectBatchResponse is the output of the batch collection function.
type CollectBatchResponse struct {
	Status       string            `json:"status"`
	State        string            `json:"state"`
	RunIDs       map[string]string `json:"runIds,omitempty"` // documentId -> runId
	SkippedLines int               `json:"skippedLines"`
}

// ReviewViewRequest asks for the display view of a document, optionally
// with a field-level diff between two model identities.
type ReviewViewRequest struct {
	DocumentID string   `json:"documentId"`
	Preference []string `json:"preference,omitempty"`
	DiffA      string   `json:"diffA,omitempty"`
	DiffB      string   `json:"diffB,omitempty"`
}

// ReviewViewResponse carries the rows to display and any diff annotations.
type ReviewViewResponse struct {
	DocumentID  string              `json:"documentId"`
	Source      string              `json:"source"` // "validated" or "union"
	Rows        RowSet              `json:"rows"`
	IngressDiff map[string][]string `json:"ingressDiff,omitempty"`
	EgressDiff  map[string][]string `json:"egressDiff,omitempty"`
}

// SaveValidatedRequest is the human-reviewed dataset submitted by the review UI.
type SaveValidatedRequest struct {
	DocumentID  string `json:"documentId"`
	Rows        RowSet `json:"rows"`
	ValidatedBy string `json:"validatedBy,omitempty"`
}

// SaveValidatedResponse is the output of the validated-dataset save.
type SaveValidatedResponse struct {
	Status       string `json:"status"`
	IngressCount int    `json:"ingressCount"`
	EgressCount  int    `json:"egressCount"`
}

// RunSummary describes one stored run without its rows.
type RunSummary struct {
	ID            string `json:"id"`
	ModelIdentity string `json:"modelIdentity"`
	ModelFamily   string `json:"modelFamily"`
	Source        string `json:"source,omitempty"`
	IngressCount  int    `json:"ingressCount"`
	EgressCount   int    `json:"egressCount"`
	FailedPages   []int  `json:"failedPages,omitempty"`
}

// DocumentStatusResponse is the operator view of a document.
type DocumentStatusResponse struct {
	Document     SourceDocument `json:"document"`
	Runs         []RunSummary   `json:"runs"`
	HasValidated bool           `json:"hasValidated"`
}

// RotatePageRequest records the display rotation of a page.
type RotatePageRequest struct {
	DocumentID string `json:"documentId"`
	PageNumber int    `json:"pageNumber"`
	Degrees    int    `json:"degrees"`
}
