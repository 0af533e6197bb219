package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/disclosureflow/internal/gcp"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/services"
)

var (
	reextractorInstance *services.PageReextractorFunction
	once                sync.Once
	initErr             error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gcp.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("HandleReextractPage", handleReextractPage)
}

func main() {}

// handleReextractPage is called by the review UI for a single page.
func handleReextractPage(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		reextractorInstance, initErr = services.NewPageReextractor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Page re-extractor initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.PageReextractRequest
	if err := services.DecodeRequest(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := reextractorInstance.Process(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}
