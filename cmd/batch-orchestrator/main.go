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
	orchestratorInstance *services.BatchOrchestratorFunction
	once                 sync.Once
	initErr              error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gcp.LogLevel()}))
	slog.SetDefault(logger)

	// Both steps are called by the batch workflow.
	functions.HTTP("HandleSubmitBatch", handleSubmitBatch)
	functions.HTTP("HandleCollectBatch", handleCollectBatch)
}

func main() {}

func instance(w http.ResponseWriter) bool {
	once.Do(func() {
		orchestratorInstance, initErr = services.NewBatchOrchestrator(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Batch orchestrator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return false
	}
	return true
}

func handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	if !instance(w) {
		return
	}
	var req models.SubmitBatchRequest
	if err := services.DecodeRequest(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	res, err := orchestratorInstance.Submit(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}

func handleCollectBatch(w http.ResponseWriter, r *http.Request) {
	if !instance(w) {
		return
	}
	var req models.CollectBatchRequest
	if err := services.DecodeRequest(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	res, err := orchestratorInstance.Collect(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}
