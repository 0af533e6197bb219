package reconcile

import "github.com/Lllllllleong/disclosureflow/internal/models"

// View sources.
const (
	SourceValidated = "validated"
	SourceUnion     = "union"
)

// View is what the review surface displays for one document.
type View struct {
	Source      string
	Rows        models.RowSet
	IngressDiff map[string][]string
	EgressDiff  map[string][]string
}

// DiffPair names the two model identities to compare. Zero value means no diff.
type DiffPair struct {
	A, B string
}

// BuildView returns the validated dataset when one exists, else the union of
// runs. When pair names two identities that both have a run, the diff
// between their latest runs is attached.
func BuildView(validated *models.ValidatedDataset, runs []models.ExtractionRun, preference []string, pair DiffPair) View {
	var v View
	if validated != nil {
		v.Source = SourceValidated
		v.Rows = validated.Rows
		if v.Rows.Ingress == nil {
			v.Rows.Ingress = []models.IngressRow{}
		}
		if v.Rows.Egress == nil {
			v.Rows.Egress = []models.EgressRow{}
		}
	} else {
		v.Source = SourceUnion
		v.Rows = Union(runs, preference)
	}

	if pair.A == "" || pair.B == "" {
		return v
	}
	a, aok := LatestRun(runs, pair.A)
	b, bok := LatestRun(runs, pair.B)
	if aok && bok {
		v.IngressDiff, v.EgressDiff = Diff(a.Rows, b.Rows)
	}
	return v
}

// LatestRun returns the most recently completed run of a model identity.
// Ties go to the run listed first.
func LatestRun(runs []models.ExtractionRun, identity string) (models.ExtractionRun, bool) {
	var best models.ExtractionRun
	found := false
	for _, run := range runs {
		if run.ModelIdentity != identity {
			continue
		}
		if !found || run.CompletedAt.After(best.CompletedAt) {
			best = run
			found = true
		}
	}
	return best, found
}
