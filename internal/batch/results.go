package batch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultLine is one record of a batch output file.
type ResultLine struct {
	Key   string
	Text  string
	Error string
}

type outputRecord struct {
	Key     string `json:"key"`
	Request struct {
		Labels map[string]string `json:"labels"`
	} `json:"request"`
	Status   json.RawMessage `json:"status"`
	Error    json.RawMessage `json:"error"`
	Response *struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	} `json:"response"`
}

// ParseResultLine decodes one output record. The key is read from the
// record's "key" field, falling back to the request label "key". A record
// carrying a status or error instead of a response yields a ResultLine with
// Error set.
func ParseResultLine(line []byte) (ResultLine, error) {
	var rec outputRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return ResultLine{}, fmt.Errorf("decode output record: %w", err)
	}
	out := ResultLine{Key: rec.Key}
	if out.Key == "" {
		out.Key = rec.Request.Labels["key"]
	}

	if msg := rawMessage(rec.Error); msg != "" {
		out.Error = msg
		return out, nil
	}
	if msg := rawMessage(rec.Status); msg != "" {
		out.Error = msg
		return out, nil
	}
	if rec.Response == nil || len(rec.Response.Candidates) == 0 {
		out.Error = "record has no response"
		return out, nil
	}
	var b strings.Builder
	for _, p := range rec.Response.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	out.Text = b.String()
	return out, nil
}

// rawMessage renders an error or status field, which the service emits
// either as a string or as an object.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	if string(raw) == "{}" {
		return ""
	}
	return string(raw)
}
