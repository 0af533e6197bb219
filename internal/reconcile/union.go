package reconcile

import (
	"cmp"
	"slices"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

// OrderRuns returns runs in preference order: runs of each preferred model
// identity in the order listed, then the remaining runs in their given order.
func OrderRuns(runs []models.ExtractionRun, preference []string) []models.ExtractionRun {
	ordered := make([]models.ExtractionRun, 0, len(runs))
	used := make([]bool, len(runs))
	for _, identity := range preference {
		for i, run := range runs {
			if !used[i] && run.ModelIdentity == identity {
				ordered = append(ordered, run)
				used[i] = true
			}
		}
	}
	for i, run := range runs {
		if !used[i] {
			ordered = append(ordered, run)
		}
	}
	return ordered
}

// Union keeps the first row seen for each stable key, iterating the latest
// run of each model identity in preference order. The result is ordered by
// page; within a page, rows keep the order in which they were first seen.
func Union(runs []models.ExtractionRun, preference []string) models.RowSet {
	ordered := OrderRuns(LatestRuns(runs), preference)
	out := models.NewRowSet()
	out.Ingress = unionKind(ordered, func(r models.ExtractionRun) []models.IngressRow { return r.Rows.Ingress })
	out.Egress = unionKind(ordered, func(r models.ExtractionRun) []models.EgressRow { return r.Rows.Egress })
	return out
}

func unionKind[R models.Row](runs []models.ExtractionRun, rowsOf func(models.ExtractionRun) []R) []R {
	seen := make(map[string]struct{})
	out := make([]R, 0)
	for _, run := range runs {
		for i, row := range rowsOf(run) {
			key := StableKey(row, run.ModelIdentity, i)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, row)
		}
	}
	slices.SortStableFunc(out, func(a, b R) int { return cmp.Compare(a.Page(), b.Page()) })
	return out
}

// LatestRuns keeps the most recently completed run of each model identity.
// Older runs of an identity are superseded, including rows a page patch
// has since removed from the latest one. Identities keep the order in which
// they first appear.
func LatestRuns(runs []models.ExtractionRun) []models.ExtractionRun {
	out := make([]models.ExtractionRun, 0, len(runs))
	seen := make(map[string]bool, len(runs))
	for _, r := range runs {
		if seen[r.ModelIdentity] {
			continue
		}
		seen[r.ModelIdentity] = true
		latest, _ := LatestRun(runs, r.ModelIdentity)
		out = append(out, latest)
	}
	return out
}
