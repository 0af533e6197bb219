package reconcile

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

// Diff compares two row sets kind by kind. See DiffRows.
func Diff(a, b models.RowSet) (ingress, egress map[string][]string) {
	return DiffRows(a.Ingress, b.Ingress), DiffRows(a.Egress, b.Egress)
}

// DiffRows maps the stable key of every row present in both a and b to the
// sorted names of the fields whose normalized values differ. Keys whose rows
// agree are omitted. Rows without a meaningful natural key are skipped.
func DiffRows[R models.Row](a, b []R) map[string][]string {
	left := index(a)
	right := index(b)
	out := make(map[string][]string)
	for key, l := range left {
		r, ok := right[key]
		if !ok {
			continue
		}
		if fields := diffValues(l.Values(), r.Values()); len(fields) > 0 {
			out[key] = fields
		}
	}
	return out
}

// index keeps the first row per key.
func index[R models.Row](rows []R) map[string]R {
	m := make(map[string]R, len(rows))
	for _, row := range rows {
		key, ok := matchKey(row)
		if !ok {
			continue
		}
		if _, dup := m[key]; !dup {
			m[key] = row
		}
	}
	return m
}

func diffValues(a, b map[string]string) []string {
	names := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		names[k] = struct{}{}
	}
	for k := range b {
		names[k] = struct{}{}
	}
	var out []string
	for _, name := range slices.Sorted(maps.Keys(names)) {
		av, aok := a[name]
		bv, bok := b[name]
		if aok != bok || Normalize(name, av) != Normalize(name, bv) {
			out = append(out, name)
		}
	}
	return out
}

var dashReplacer = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-", "–", "-",
	"—", "-", "―", "-", "−", "-", "﹣", "-", "－", "-",
)

var dateReplacer = strings.NewReplacer("-", "/", ".", "/", " ", "/", "\\", "/")

// Normalize maps a field value to the form used for comparison, so that
// cosmetically different renderings of the same value compare equal.
func Normalize(field, value string) string {
	switch field {
	case "contributorRuc", "supplierRuc":
		return normalizeTaxID(value)
	case "receiptNumber", "invoiceNumber":
		return normalizeDocNumber(value)
	case "date":
		return normalizeDate(value)
	case "total":
		return normalizeAmount(value)
	default:
		return normalizeText(value)
	}
}

func normalizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeDocNumber(s string) string {
	s = dashReplacer.Replace(s)
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

func normalizeDate(s string) string {
	s = dateReplacer.Replace(strings.TrimSpace(s))
	parts := strings.Split(s, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			p = strconv.Itoa(n)
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "/")
}

func normalizeAmount(s string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return normalizeText(s)
	}
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', 2, 64)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
