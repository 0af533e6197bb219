// Package extraction sends document units to an extraction service under a
// concurrency bound and reassembles the results in page order.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/common"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
	"golang.org/x/sync/errgroup"
)

// DefaultPageConcurrency bounds the number of extraction calls in flight.
const DefaultPageConcurrency = 50

// Extractor reads the rows off one unit. Implementations must be safe for
// concurrent use.
type Extractor interface {
	Extract(ctx context.Context, unit segment.Unit) (models.RowSet, error)
}

// ReadinessChecker is implemented by extractors that can tell up front
// whether they are usable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, unit segment.Unit) (models.RowSet, error)

func (f ExtractorFunc) Extract(ctx context.Context, unit segment.Unit) (models.RowSet, error) {
	return f(ctx, unit)
}

// UnitResult is the outcome of one unit. Err is a *common.UnitError when the
// unit failed, in which case Rows is empty.
type UnitResult struct {
	Ordinal   int
	FirstPage int
	PageSpan  int
	Rows      models.RowSet
	Err       error
}

// DispatchConfig tunes a Dispatcher.
type DispatchConfig struct {
	Concurrency int
	UnitTimeout time.Duration // zero means no per-unit deadline
}

// Dispatcher fans units out to an Extractor.
type Dispatcher struct {
	extractor Extractor
	cfg       DispatchConfig
	logger    *slog.Logger
}

// NewDispatcher returns a Dispatcher. A non-positive concurrency falls back
// to DefaultPageConcurrency.
func NewDispatcher(extractor Extractor, cfg DispatchConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultPageConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{extractor: extractor, cfg: cfg, logger: logger}
}

// Dispatch extracts every unit and returns one result per unit, in the
// order of units. A failing unit never fails the call; only an unusable
// extractor does.
func (d *Dispatcher) Dispatch(ctx context.Context, units []segment.Unit) ([]UnitResult, error) {
	if d.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", common.ErrExtractorUnavailable)
	}
	if rc, ok := d.extractor.(ReadinessChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrExtractorUnavailable, err)
		}
	}

	results := make([]UnitResult, len(units))
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, unit := range units {
		g.Go(func() error {
			results[i] = d.extractUnit(ctx, unit)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	d.logger.Info("Dispatch complete", "units", len(units), "failedUnits", failed)
	return results, nil
}

func (d *Dispatcher) extractUnit(ctx context.Context, unit segment.Unit) (result UnitResult) {
	result = UnitResult{
		Ordinal:   unit.Ordinal,
		FirstPage: unit.FirstPage,
		PageSpan:  unit.PageSpan,
		Rows:      models.NewRowSet(),
	}
	defer func() {
		if r := recover(); r != nil {
			result.Rows = models.NewRowSet()
			result.Err = &common.UnitError{Ordinal: unit.Ordinal, Err: fmt.Errorf("panic: %v", r)}
			d.logger.Error("Extractor panicked", "ordinal", unit.Ordinal, "panic", r)
		}
	}()

	if d.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.UnitTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := d.extractor.Extract(ctx, unit)
	if err != nil {
		result.Err = &common.UnitError{Ordinal: unit.Ordinal, Err: err}
		d.logger.Warn("Unit extraction failed",
			"ordinal", unit.Ordinal, "firstPage", unit.FirstPage, "error", err,
			"duration", time.Since(start))
		return result
	}
	if rows.Ingress != nil {
		result.Rows.Ingress = rows.Ingress
	}
	if rows.Egress != nil {
		result.Rows.Egress = rows.Egress
	}
	d.logger.Debug("Unit extracted",
		"ordinal", unit.Ordinal, "rows", rows.Len(), "duration", time.Since(start))
	return result
}
