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
	reviewInstance *services.ReviewFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gcp.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("HandleReviewView", handleReviewView)
	functions.HTTP("HandleSaveValidated", handleSaveValidated)
	functions.HTTP("HandleRotatePage", handleRotatePage)
}

func main() {}

func instance(w http.ResponseWriter) bool {
	once.Do(func() {
		reviewInstance, initErr = services.NewReview(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Review initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := services.DecodeRequest(r, v); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func handleReviewView(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewViewRequest
	if !instance(w) || !decode(w, r, &req) {
		return
	}
	res, err := reviewInstance.View(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}

func handleSaveValidated(w http.ResponseWriter, r *http.Request) {
	var req models.SaveValidatedRequest
	if !instance(w) || !decode(w, r, &req) {
		return
	}
	res, err := reviewInstance.SaveValidated(r.Context(), &req)
	if err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, res)
}

func handleRotatePage(w http.ResponseWriter, r *http.Request) {
	var req models.RotatePageRequest
	if !instance(w) || !decode(w, r, &req) {
		return
	}
	if err := reviewInstance.RotatePage(r.Context(), &req); err != nil {
		services.WriteError(w, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
