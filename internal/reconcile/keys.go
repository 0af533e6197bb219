// Package reconcile merges extraction runs into one display view and
// locates field-level disagreements between two runs.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

const keySeparator = "::"

// IsMeaningfulKey reports whether a natural key can identify a row.
func IsMeaningfulKey(k *string) bool {
	if k == nil {
		return false
	}
	s := strings.TrimSpace(*k)
	return s != "" && s != "null" && s != "undefined"
}

// StableKey returns "<page>::<naturalKey>", or a synthetic key unique to
// (model, position) when the natural key is meaningless, so that two blank
// keys on one page are never treated as the same row.
func StableKey(row models.Row, modelIdentity string, index int) string {
	page := strconv.Itoa(row.Page())
	if k := row.NaturalKey(); IsMeaningfulKey(k) {
		return page + keySeparator + strings.TrimSpace(*k)
	}
	return page + keySeparator + "__" + modelIdentity + "__" + strconv.Itoa(index)
}

// matchKey is the stable key used for diffing; rows without a meaningful
// natural key cannot be matched across runs.
func matchKey(row models.Row) (string, bool) {
	k := row.NaturalKey()
	if !IsMeaningfulKey(k) {
		return "", false
	}
	return strconv.Itoa(row.Page()) + keySeparator + strings.TrimSpace(*k), true
}
