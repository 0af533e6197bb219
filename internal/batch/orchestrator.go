package batch

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultChunkSize    = 1

	maxLineBytes = 64 << 20
)

// Request is one keyed unit of a batch submission.
type Request struct {
	Key        string
	DocumentID string
	Unit       segment.Unit
}

// JobStatus is the service's view of a job, with State mapped onto the
// models.Batch* states.
type JobStatus struct {
	State          string
	Message        string
	ResultLocation string
}

// Service is the external batch-processing collaborator.
type Service interface {
	Submit(ctx context.Context, displayName string, requests []Request) (jobName string, err error)
	Status(ctx context.Context, jobName string) (JobStatus, error)
	// Results opens the job's newline-delimited output.
	Results(ctx context.Context, job *models.BatchJob) (io.ReadCloser, error)
}

// JobStore persists BatchJobs.
type JobStore interface {
	SaveBatchJob(ctx context.Context, job *models.BatchJob) error
	GetBatchJob(ctx context.Context, jobName string) (*models.BatchJob, error)
}

// Source is a document to include in a batch.
type Source struct {
	DocumentID string
	PDF        []byte
}

// Config tunes an Orchestrator.
type Config struct {
	ChunkSize     int
	PollInterval  time.Duration
	ModelIdentity string
	ModelFamily   string
}

// Orchestrator moves a batch job through
// building -> submitted -> polling -> succeeded | failed | cancelled | expired.
type Orchestrator struct {
	service   Service
	jobs      JobStore
	segmenter *segment.Segmenter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator returns an Orchestrator with defaults filled in.
func NewOrchestrator(service Service, jobs JobStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		service:   service,
		jobs:      jobs,
		segmenter: segment.New(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Build segments every source into chunks of chunkSize pages and keys each
// chunk by document and 0-based chunk index. A malformed document fails
// the whole build.
func (o *Orchestrator) Build(sources []Source, chunkSize int) ([]Request, map[string]int, error) {
	if chunkSize < 1 {
		chunkSize = o.cfg.ChunkSize
	}
	var requests []Request
	pageCounts := make(map[string]int, len(sources))
	for _, src := range sources {
		units, err := o.segmenter.Segment(src.PDF, chunkSize)
		if err != nil {
			return nil, nil, fmt.Errorf("document %s: %w", src.DocumentID, err)
		}
		pageCounts[src.DocumentID] = units[len(units)-1].LastPage()
		for _, u := range units {
			requests = append(requests, Request{
				Key:        FormatKey(src.DocumentID, u.Ordinal-1),
				DocumentID: src.DocumentID,
				Unit:       u,
			})
		}
	}
	return requests, pageCounts, nil
}

// Submit builds and submits one job for all sources and persists the job
// record as soon as the service has accepted it.
func (o *Orchestrator) Submit(ctx context.Context, displayName string, sources []Source, chunkSize int) (*models.BatchJob, error) {
	if chunkSize < 1 {
		chunkSize = o.cfg.ChunkSize
	}
	requests, pageCounts, err := o.Build(sources, chunkSize)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, errors.New("batch has no requests")
	}

	jobName, err := o.service.Submit(ctx, displayName, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to submit batch job: %w", err)
	}

	job := &models.BatchJob{
		JobName:       jobName,
		PageCounts:    pageCounts,
		ChunkSize:     chunkSize,
		ModelIdentity: o.cfg.ModelIdentity,
		ModelFamily:   o.cfg.ModelFamily,
		State:         models.BatchSubmitted,
		SubmittedAt:   o.now(),
	}
	for _, src := range sources {
		job.DocumentIDs = append(job.DocumentIDs, src.DocumentID)
	}
	for _, r := range requests {
		job.RequestKeys = append(job.RequestKeys, r.Key)
	}
	if err := o.jobs.SaveBatchJob(ctx, job); err != nil {
		// The job exists remotely; surface its name so it can be recovered.
		o.logger.Error("CRITICAL: Batch job submitted but not persisted.", "jobName", jobName, "error", err)
		return job, fmt.Errorf("failed to persist batch job %s: %w", jobName, err)
	}
	o.logger.Info("Batch job submitted.", "jobName", jobName, "requests", len(requests), "documents", len(sources))
	return job, nil
}

// Poll checks the job every poll interval until it reaches a terminal state.
// Transient status errors are logged and retried on the next tick without a
// state change. A terminal state other than success returns a
// *common.BatchTerminalError; the job is not retried.
func (o *Orchestrator) Poll(ctx context.Context, jobName string) (*models.BatchJob, error) {
	job, err := o.jobs.GetBatchJob(ctx, jobName)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("jobName", jobName)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if !models.IsTerminalBatchState(job.State) {
			st, err := o.service.Status(ctx, jobName)
			if err != nil {
				logger.Warn("Batch status poll failed, will retry.", "interval", o.cfg.PollInterval.String(), "error", err)
			} else if st.State != job.State || st.ResultLocation != job.ResultLocation {
				logger.Info("Batch job state changed.", "from", job.State, "to", st.State)
				job.State = st.State
				job.ResultLocation = st.ResultLocation
				job.Error = st.Message
				job.UpdatedAt = o.now()
				if err := o.jobs.SaveBatchJob(ctx, job); err != nil {
					logger.Warn("Failed to persist batch job state.", "error", err)
				}
			}
		}

		if models.IsTerminalBatchState(job.State) {
			if job.State != models.BatchSucceeded {
				return job, &common.BatchTerminalError{JobName: jobName, State: job.State, Message: job.Error}
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Collection is the reassembled output of a succeeded job.
type Collection struct {
	// Documents maps document id to its aggregated rows.
	Documents    map[string]extraction.Aggregation
	SkippedLines int
}

// Collect downloads the job output and feeds each document's results,
// ordered by chunk ordinal, to the aggregator. Lines with unparseable keys
// are skipped; error records and chunks absent from the output contribute
// empty rows and are reported as failed pages.
func (o *Orchestrator) Collect(ctx context.Context, job *models.BatchJob) (*Collection, error) {
	if job.State != models.BatchSucceeded {
		return nil, &common.BatchTerminalError{JobName: job.JobName, State: job.State, Message: job.Error}
	}
	rc, err := o.service.Results(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch results: %w", err)
	}
	defer rc.Close()

	groups, skipped, err := o.readResults(rc)
	if err != nil {
		return nil, err
	}

	chunk := max(job.ChunkSize, 1)
	out := &Collection{Documents: make(map[string]extraction.Aggregation), SkippedLines: skipped}
	for _, docID := range job.DocumentIDs {
		results := groups[docID]
		pages := job.PageCounts[docID]
		results = fillMissing(results, pages, chunk)
		for i := range results {
			results[i].FirstPage = results[i].Ordinal*chunk + 1
			results[i].PageSpan = chunk
			if pages > 0 {
				results[i].PageSpan = min(chunk, pages-results[i].FirstPage+1)
			}
		}
		// Aggregate is keyed by ordinal; shift to the 1-based convention.
		for i := range results {
			results[i].Ordinal++
		}
		out.Documents[docID] = extraction.Aggregate(results)
		delete(groups, docID)
	}
	for docID := range groups {
		o.logger.Warn("Batch output has results for a document outside the job.", "jobName", job.JobName, "documentId", docID)
	}
	return out, nil
}

// readResults groups records by document, each group sorted by 0-based ordinal.
func (o *Orchestrator) readResults(r io.Reader) (map[string][]extraction.UnitResult, int, error) {
	groups := make(map[string][]extraction.UnitResult)
	skipped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := ParseResultLine(line)
		if err != nil {
			skipped++
			o.logger.Warn("Skipping unreadable batch line.", "line", lineNo, "error", err)
			continue
		}
		group, ordinal, err := ParseKey(rec.Key)
		if err != nil {
			skipped++
			o.logger.Warn("Skipping batch line with bad key.", "line", lineNo, "error", err)
			continue
		}

		res := extraction.UnitResult{Ordinal: ordinal, Rows: models.NewRowSet()}
		if rec.Error != "" {
			res.Err = &common.UnitError{Ordinal: ordinal + 1, Err: errors.New(rec.Error)}
			o.logger.Warn("Batch record carries an error.", "key", rec.Key, "error", rec.Error)
		} else if rows, err := extraction.DecodeRows(rec.Text, o.logger); err != nil {
			res.Err = &common.UnitError{Ordinal: ordinal + 1, Err: err}
			o.logger.Warn("Batch record could not be decoded.", "key", rec.Key, "error", err)
		} else {
			res.Rows = rows
		}
		groups[group] = append(groups[group], res)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read batch results: %w", err)
	}

	for g := range groups {
		slices.SortStableFunc(groups[g], func(a, b extraction.UnitResult) int {
			return cmp.Compare(a.Ordinal, b.Ordinal)
		})
		groups[g] = slices.CompactFunc(groups[g], func(a, b extraction.UnitResult) bool {
			return a.Ordinal == b.Ordinal
		})
	}
	return groups, skipped, nil
}

// fillMissing adds a failed result for every chunk the output did not cover.
func fillMissing(results []extraction.UnitResult, pages, chunk int) []extraction.UnitResult {
	if pages <= 0 {
		return results
	}
	want := (pages + chunk - 1) / chunk
	have := make(map[int]bool, len(results))
	kept := results[:0]
	for _, r := range results {
		if r.Ordinal < want {
			have[r.Ordinal] = true
			kept = append(kept, r)
		}
	}
	for ord := 0; ord < want; ord++ {
		if !have[ord] {
			kept = append(kept, extraction.UnitResult{
				Ordinal: ord,
				Rows:    models.NewRowSet(),
				Err:     &common.UnitError{Ordinal: ord + 1, Err: errors.New("missing from batch output")},
			})
		}
	}
	slices.SortFunc(kept, func(a, b extraction.UnitResult) int { return cmp.Compare(a.Ordinal, b.Ordinal) })
	return kept
}
