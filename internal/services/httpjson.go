package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/disclosureflow/internal/common"
)

// DecodeRequest parses a JSON request body into v.
func DecodeRequest(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// WriteError maps a pipeline error to its status code. The workflow
// retries on 5xx and gives up on 4xx.
func WriteError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	var terminal *common.BatchTerminalError
	body := map[string]string{"status": "error", "error": err.Error()}
	if errors.As(err, &terminal) {
		body["state"] = terminal.State
	}
	WriteJSON(w, status, body)
}
