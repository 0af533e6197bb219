package extraction

import (
	"cmp"
	"slices"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

// Aggregation is the document-level result of one extraction pass.
type Aggregation struct {
	Rows        models.RowSet
	FailedPages []int
}

// Aggregate merges unit results into one RowSet ordered by page. Every row
// takes its page number from its unit: single-page units stamp FirstPage,
// multi-page units keep a model-reported page when it is a valid position
// inside the unit (1..PageSpan) and fall back to FirstPage otherwise.
// Aggregate is pure; equal input yields equal output.
func Aggregate(results []UnitResult) Aggregation {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b UnitResult) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})

	out := Aggregation{Rows: models.NewRowSet(), FailedPages: []int{}}
	for _, r := range ordered {
		first, span := unitPages(r)
		if r.Err != nil {
			for p := first; p < first+span; p++ {
				out.FailedPages = append(out.FailedPages, p)
			}
		}
		for _, row := range r.Rows.Ingress {
			out.Rows.Ingress = append(out.Rows.Ingress, row.WithPage(pageFor(row.PageNumber, first, span)))
		}
		for _, row := range r.Rows.Egress {
			out.Rows.Egress = append(out.Rows.Egress, row.WithPage(pageFor(row.PageNumber, first, span)))
		}
	}

	slices.SortStableFunc(out.Rows.Ingress, func(a, b models.IngressRow) int {
		return cmp.Compare(a.PageNumber, b.PageNumber)
	})
	slices.SortStableFunc(out.Rows.Egress, func(a, b models.EgressRow) int {
		return cmp.Compare(a.PageNumber, b.PageNumber)
	})
	slices.Sort(out.FailedPages)
	out.FailedPages = slices.Compact(out.FailedPages)
	return out
}

// unitPages tolerates results built without page metadata by treating the
// ordinal as a single page.
func unitPages(r UnitResult) (first, span int) {
	first, span = r.FirstPage, r.PageSpan
	if first < 1 {
		first = r.Ordinal
	}
	if span < 1 {
		span = 1
	}
	return first, span
}

func pageFor(reported, first, span int) int {
	if span > 1 && reported >= 1 && reported <= span {
		return first + reported - 1
	}
	return first
}
