package reconcile

import (
	"testing"
	"time"

	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string   { return &s }
func num(f float64) *float64  { return &f }

func in(page int, receipt *string, total float64) models.IngressRow {
	return models.IngressRow{PageNumber: page, ReceiptNumber: receipt, Total: num(total)}
}

func run(identity string, rows ...models.IngressRow) models.ExtractionRun {
	set := models.NewRowSet()
	set.Ingress = append(set.Ingress, rows...)
	return models.ExtractionRun{ModelIdentity: identity, Rows: set}
}

func TestStableKey(t *testing.T) {
	tests := []struct {
		name string
		key  *string
		want string
	}{
		{"natural key", str("R-001"), "4::R-001"},
		{"trimmed", str("  R-001 "), "4::R-001"},
		{"nil", nil, "4::__gemini-pro__2"},
		{"blank", str("   "), "4::__gemini-pro__2"},
		{"null literal", str("null"), "4::__gemini-pro__2"},
		{"undefined literal", str("undefined"), "4::__gemini-pro__2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := models.IngressRow{PageNumber: 4, ReceiptNumber: tt.key}
			assert.Equal(t, tt.want, StableKey(row, "gemini-pro", 2))
		})
	}
}

func TestDiffScenario(t *testing.T) {
	a := []models.IngressRow{in(4, str("R-001"), 100)}
	b := []models.IngressRow{in(4, str("R-001"), 150)}
	assert.Equal(t, map[string][]string{"4::R-001": {"total"}}, DiffRows(a, b))
}

func TestDiffIsSymmetricInKeys(t *testing.T) {
	a := []models.IngressRow{
		in(1, str("A"), 10),
		in(2, str("B"), 20),
		in(3, str("C"), 30),
	}
	b := []models.IngressRow{
		in(1, str("A"), 11),
		in(2, str("B"), 20),
		in(4, str("D"), 40),
	}
	ab := DiffRows(a, b)
	ba := DiffRows(b, a)
	assert.Equal(t, ab, ba)
	assert.Equal(t, map[string][]string{"1::A": {"total"}}, ab)
}

func TestDiffSkipsBlankKeys(t *testing.T) {
	a := []models.IngressRow{in(1, nil, 10), in(1, str(""), 10)}
	b := []models.IngressRow{in(1, nil, 99), in(1, str("null"), 99)}
	assert.Empty(t, DiffRows(a, b))
}

func TestDiffNormalizesCosmeticDifferences(t *testing.T) {
	a := []models.EgressRow{{
		PageNumber:    2,
		InvoiceNumber: str("F001-123"),
		SupplierRUC:   str("20-123.456 789"),
		Date:          str("01/02/2024"),
		Concept:       str("Alquiler  de local"),
		Total:         num(150),
	}}
	b := []models.EgressRow{{
		PageNumber:    2,
		InvoiceNumber: str("F001-123"),
		SupplierRUC:   str("20123456789"),
		Date:          str("1-2-2024"),
		Concept:       str("alquiler de LOCAL"),
		Total:         num(150.001),
	}}
	assert.Empty(t, DiffRows(a, b))

	b[0].DocumentType = str("factura")
	b[0].Concept = str("alquiler de oficina")
	assert.Equal(t, map[string][]string{"2::F001-123": {"concept", "documentType"}}, DiffRows(a, b))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		field, a, b string
	}{
		{"receiptNumber", "R–001", "r-001"},
		{"invoiceNumber", "E001 - 55", "E001-55"},
		{"supplierRuc", "ruc 1045", "RUC-1045"},
		{"date", "05.03.2024", "5/3/2024"},
		{"total", "1250.5", "1250.50"},
		{"contributorName", " Juan   PEREZ ", "juan perez"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, Normalize(tt.field, tt.a), Normalize(tt.field, tt.b))
		})
	}
}

func TestUnionPrefersFirstIdentity(t *testing.T) {
	runs := []models.ExtractionRun{
		run("old-model", in(1, str("A"), 1), in(2, str("B"), 1)),
		run("new-model", in(1, str("A"), 2), in(3, str("C"), 2)),
	}
	got := Union(runs, []string{"new-model"})
	require.Len(t, got.Ingress, 3)
	assert.Equal(t, "A", *got.Ingress[0].ReceiptNumber)
	assert.Equal(t, 2.0, *got.Ingress[0].Total, "new-model copy wins")
	assert.Equal(t, "B", *got.Ingress[1].ReceiptNumber)
	assert.Equal(t, "C", *got.Ingress[2].ReceiptNumber)
	assert.NotNil(t, got.Egress)
}

func TestUnionKeepsBlankKeyRowsApart(t *testing.T) {
	runs := []models.ExtractionRun{
		run("m1", in(1, nil, 1), in(1, str(""), 2)),
		run("m2", in(1, nil, 1)),
	}
	got := Union(runs, nil)
	assert.Len(t, got.Ingress, 3)
}

func TestUnionDeterministicAndCoverage(t *testing.T) {
	runs := []models.ExtractionRun{
		run("m1", in(2, str("B"), 1)),
		run("m2", in(1, str("A"), 1), in(2, str("B"), 2)),
	}
	first := Union(runs, []string{"m2", "m1"})
	second := Union(runs, []string{"m2", "m1"})
	assert.Equal(t, first, second)

	reversed := Union(runs, []string{"m1", "m2"})
	keys := func(s models.RowSet) []string {
		var out []string
		for i, r := range s.Ingress {
			out = append(out, StableKey(r, "", i))
		}
		return out
	}
	assert.ElementsMatch(t, keys(first), keys(reversed))
	assert.Equal(t, 2.0, *first.Ingress[1].Total)
	assert.Equal(t, 1.0, *reversed.Ingress[1].Total)
}

func TestUnionUsesLatestRunPerIdentity(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stale := run("m1", in(1, str("A"), 1), in(2, str("B"), 1))
	stale.CompletedAt = now.Add(-time.Hour)
	// Page 2 was patched out of the latest run.
	latest := run("m1", in(1, str("A"), 2))
	latest.CompletedAt = now
	other := run("m2", in(3, str("C"), 1))

	got := Union([]models.ExtractionRun{stale, other, latest}, nil)
	require.Len(t, got.Ingress, 2)
	assert.Equal(t, "A", *got.Ingress[0].ReceiptNumber)
	assert.Equal(t, 2.0, *got.Ingress[0].Total)
	assert.Equal(t, "C", *got.Ingress[1].ReceiptNumber)

	reduced := LatestRuns([]models.ExtractionRun{stale, other, latest})
	require.Len(t, reduced, 2)
	assert.Equal(t, "m1", reduced[0].ModelIdentity)
	assert.Equal(t, now, reduced[0].CompletedAt)
	assert.Equal(t, "m2", reduced[1].ModelIdentity)
}

func TestOrderRuns(t *testing.T) {
	runs := []models.ExtractionRun{
		{ModelIdentity: "a"}, {ModelIdentity: "b"}, {ModelIdentity: "c"},
	}
	got := OrderRuns(runs, []string{"c", "missing", "a"})
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ModelIdentity)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestBuildView(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	older := run("m1", in(4, str("R-001"), 90))
	older.CompletedAt = now.Add(-time.Hour)
	latest := run("m1", in(4, str("R-001"), 100))
	latest.CompletedAt = now
	other := run("m2", in(4, str("R-001"), 150))
	other.CompletedAt = now
	runs := []models.ExtractionRun{older, latest, other}

	v := BuildView(nil, runs, []string{"m2"}, DiffPair{A: "m1", B: "m2"})
	assert.Equal(t, SourceUnion, v.Source)
	require.Len(t, v.Rows.Ingress, 1)
	assert.Equal(t, 150.0, *v.Rows.Ingress[0].Total)
	assert.Equal(t, map[string][]string{"4::R-001": {"total"}}, v.IngressDiff)
	assert.Empty(t, v.EgressDiff)

	validated := &models.ValidatedDataset{DocumentID: "doc", Rows: models.RowSet{
		Ingress: []models.IngressRow{in(4, str("R-001"), 120)},
	}}
	v = BuildView(validated, runs, nil, DiffPair{})
	assert.Equal(t, SourceValidated, v.Source)
	assert.Equal(t, 120.0, *v.Rows.Ingress[0].Total)
	assert.NotNil(t, v.Rows.Egress)
	assert.Nil(t, v.IngressDiff)

	v = BuildView(nil, runs, nil, DiffPair{A: "m1", B: "absent"})
	assert.Nil(t, v.IngressDiff)
}
