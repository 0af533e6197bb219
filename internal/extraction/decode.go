package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/Lllllllleong/disclosureflow/internal/models"
)

// DecodeRows turns a raw model response into a RowSet. The response is
// sanitized first (code fences, null/empty optionals, numeric coercion,
// unknown keys) so that a mostly-correct answer still validates against
// the output schema.
func DecodeRows(raw string, logger *slog.Logger) (models.RowSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clean, dropped, err := SanitizeOutput([]byte(StripCodeFence(raw)))
	if err != nil {
		return models.NewRowSet(), err
	}
	if len(dropped) > 0 {
		logger.Warn("extraction.decode.sanitized", "dropped", dropped)
	}
	if err := ValidateOutput(clean); err != nil {
		return models.NewRowSet(), err
	}

	rows := models.NewRowSet()
	if err := json.Unmarshal(clean, &rows); err != nil {
		return models.NewRowSet(), fmt.Errorf("decode rows: %w", err)
	}
	if rows.Ingress == nil {
		rows.Ingress = []models.IngressRow{}
	}
	if rows.Egress == nil {
		rows.Egress = []models.EgressRow{}
	}
	return rows, nil
}

// StripCodeFence removes a surrounding ```json ... ``` block if present.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// SanitizeOutput normalizes a decoded model response:
//   - missing or null row arrays become empty arrays
//   - null, empty and "null" optionals are dropped
//   - numeric strings become numbers for number fields, numbers become strings for string fields
//   - unparseable amounts are dropped and recorded as unreadable
//   - unknown keys are removed
//
// It returns the re-encoded JSON and a list of what was dropped.
func SanitizeOutput(raw []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	for k := range m {
		if k != models.KindIngress && k != models.KindEgress {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}
	for _, kind := range []string{models.KindIngress, models.KindEgress} {
		items, _ := m[kind].([]any)
		out := make([]any, 0, len(items))
		for i, item := range items {
			row, ok := item.(map[string]any)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("%s[%d](type)", kind, i))
				continue
			}
			d := sanitizeRow(row, FieldsFor(kind))
			for _, name := range d {
				dropped = append(dropped, fmt.Sprintf("%s[%d].%s", kind, i, name))
			}
			out = append(out, row)
		}
		m[kind] = out
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	slices.Sort(dropped)
	return b, dropped, nil
}

func sanitizeRow(row map[string]any, fields []Field) []string {
	var dropped []string
	types := make(map[string]FieldType, len(fields))
	for _, f := range fields {
		types[f.Name] = f.Type
	}
	unreadable := readableSet(row["unreadableFields"], types)

	for k, v := range row {
		switch k {
		case "unreadableFields":
			continue
		case "pageNumber":
			if p, ok := asPage(v); ok {
				row[k] = p
			} else {
				delete(row, k)
				dropped = append(dropped, k)
			}
			continue
		}
		t, known := types[k]
		if !known {
			delete(row, k)
			dropped = append(dropped, k+"(unknown)")
			continue
		}
		if isBlank(v) {
			delete(row, k)
			continue
		}
		switch t {
		case FieldNumber:
			n, ok := asAmount(v)
			if !ok {
				delete(row, k)
				dropped = append(dropped, k+"(unparseable)")
				if !slices.Contains(unreadable, k) {
					unreadable = append(unreadable, k)
				}
				continue
			}
			row[k] = n
		case FieldString:
			switch s := v.(type) {
			case string:
				row[k] = strings.TrimSpace(s)
			case float64:
				row[k] = strconv.FormatFloat(s, 'f', -1, 64)
			case bool:
				row[k] = strconv.FormatBool(s)
			default:
				delete(row, k)
				dropped = append(dropped, k+"(type)")
			}
		}
	}

	if len(unreadable) > 0 {
		slices.Sort(unreadable)
		row["unreadableFields"] = unreadable
	} else {
		delete(row, "unreadableFields")
	}
	return dropped
}

// readableSet keeps the unreadable field names that belong to the row kind.
func readableSet(v any, types map[string]FieldType) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if _, known := types[s]; known && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(t)
		return s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "undefined")
	}
	return false
}

func asPage(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t >= 1 && t == float64(int(t)) {
			return int(t), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n >= 1 {
			return n, true
		}
	}
	return 0, false
}

// asAmount parses amounts as printed in disclosures: "S/ 1,234.50",
// "1.234,50", "-75", 12.5.
func asAmount(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		return ParseAmount(t)
	}
	return 0, false
}

// ParseAmount extracts a number from a printed amount. The right-most of
// '.' and ',' is taken as the decimal separator when both appear; a lone
// ',' is decimal only when followed by exactly two digits.
func ParseAmount(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	digits := strings.Trim(b.String(), ".,")
	if digits == "" || digits == "-" {
		return 0, false
	}
	lastDot := strings.LastIndexByte(digits, '.')
	lastComma := strings.LastIndexByte(digits, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			digits = strings.ReplaceAll(digits, ".", "")
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(digits, ",") == 1 && len(digits)-lastComma-1 == 2 {
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	}
	n, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
