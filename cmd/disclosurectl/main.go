// Command disclosurectl runs the extraction pipeline from an operator's
// machine against the deployed stores.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"github.com/Lllllllleong/disclosureflow/internal/cli"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/services"
	"github.com/Lllllllleong/disclosureflow/internal/store"
	"github.com/spf13/pflag"
)

type command struct {
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error)
}

var commands = map[string]command{
	"extract": {
		usage: "extract FILE.pdf [FILE.pdf...]  register and extract local PDFs",
		run:   runExtract,
	},
	"reextract": {
		usage: "reextract --document ID --page N [--family F]  re-extract one page",
		flags: func(fs *pflag.FlagSet) {
			fs.String("document", "", "Document ID")
			fs.Int("page", 0, "Page number (1-based)")
			fs.String("family", "", "Model family of the run to patch")
		},
		run: runReextract,
	},
	"batch-submit": {
		usage: "batch-submit --document ID [--document ID...] [--chunk N]  submit a batch job",
		flags: func(fs *pflag.FlagSet) {
			fs.StringSlice("document", nil, "Document IDs")
			fs.Int("chunk", 0, "Pages per request (batch-chunk-size when zero)")
		},
		run: runBatchSubmit,
	},
	"batch-collect": {
		usage: "batch-collect --job NAME  wait for a batch job and save its runs",
		flags: func(fs *pflag.FlagSet) {
			fs.String("job", "", "Batch job name")
		},
		run: runBatchCollect,
	},
	"diff": {
		usage: "diff --document ID --a MODEL --b MODEL [--prefer MODEL...]  compare two models",
		flags: func(fs *pflag.FlagSet) {
			fs.String("document", "", "Document ID")
			fs.String("a", "", "First model identity")
			fs.String("b", "", "Second model identity")
			fs.StringSlice("prefer", nil, "Model identities in merge preference order")
		},
		run: runDiff,
	},
	"status": {
		usage: "status (--document ID | --status STATE)  show a document or list documents",
		flags: func(fs *pflag.FlagSet) {
			fs.String("document", "", "Document ID")
			fs.String("status", "", "List documents in this state")
		},
		run: runStatus,
	},
}

// app holds the services built for one invocation.
type app struct {
	cfg   *cli.Config
	store store.Store
	blobs blobstore.Store
	gcs   *storage.Client
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		return 2
	}

	fs := cli.NewFlagSet(name)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: disclosurectl %s\n\nOptions:\n", cmd.usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := cli.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return 1
	}
	defer a.close()

	out, err := cmd.run(ctx, a, fs)
	if err != nil {
		slog.Error("Command failed", "command", name, "error", err)
		return 1
	}
	printResult(cfg, out)
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: disclosurectl COMMAND [options]\n\nCommands:")
	for _, name := range []string{"extract", "reextract", "batch-submit", "batch-collect", "diff", "status"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nEvery option can also be set as %s_<OPTION> or in a --config YAML file.\n", cli.EnvPrefix)
}

func newApp(ctx context.Context, cfg *cli.Config) (*app, error) {
	st, err := cfg.Env.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	blobs, err := cfg.Env.OpenBlobStore(ctx, gcs)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st, blobs: blobs, gcs: gcs}, nil
}

func (a *app) close() {
	_ = a.gcs.Close()
}

func printResult(cfg *cli.Config, v any) {
	if !cfg.JSON {
		fmt.Printf("%+v\n", v)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runExtract(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	if fs.NArg() == 0 {
		return nil, errors.New("extract needs at least one PDF file")
	}
	extractor, err := a.cfg.Env.OpenExtractor(ctx, slog.Default())
	if err != nil {
		return nil, err
	}
	defer extractor.Close()

	f := services.NewDocumentExtractorWith(services.DocumentExtractorDeps{
		Store:     a.store,
		Blobs:     a.blobs,
		Extractor: extractor,
	}, services.DocumentExtractorConfig{
		ModelIdentity: a.cfg.Env.ModelIdentity(),
		ModelFamily:   a.cfg.Env.ModelFamily,
		Dispatch:      a.cfg.Env.DispatchConfig(),
	})

	results := make([]*services.IngestResult, 0, fs.NArg())
	for _, path := range fs.Args() {
		pdf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		res, err := f.Ingest(ctx, filepath.Base(path), pdf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func runReextract(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	docID, _ := fs.GetString("document")
	page, _ := fs.GetInt("page")
	family, _ := fs.GetString("family")
	if docID == "" {
		return nil, errors.New("--document is required")
	}
	extractor, err := a.cfg.Env.OpenExtractor(ctx, slog.Default())
	if err != nil {
		return nil, err
	}
	defer extractor.Close()

	f := services.NewPageReextractorWith(a.store, a.blobs, extractor, a.cfg.Env.ModelFamily, nil)
	return f.Process(ctx, &models.PageReextractRequest{DocumentID: docID, PageNumber: page, ModelFamily: family})
}

func batchFunction(ctx context.Context, a *app) (*services.BatchOrchestratorFunction, func(), error) {
	svc, err := a.cfg.Env.OpenBatchService(ctx, a.gcs, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	f := services.NewBatchOrchestratorWith(a.store, a.blobs, svc, a.cfg.Env.BatchConfig(), nil)
	return f, func() { _ = svc.Close() }, nil
}

func runBatchSubmit(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	docs, _ := fs.GetStringSlice("document")
	chunk, _ := fs.GetInt("chunk")
	f, done, err := batchFunction(ctx, a)
	if err != nil {
		return nil, err
	}
	defer done()
	return f.Submit(ctx, &models.SubmitBatchRequest{DocumentIDs: docs, ChunkSize: chunk})
}

func runBatchCollect(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	job, _ := fs.GetString("job")
	if job == "" {
		return nil, errors.New("--job is required")
	}
	f, done, err := batchFunction(ctx, a)
	if err != nil {
		return nil, err
	}
	defer done()
	return f.Collect(ctx, &models.CollectBatchRequest{JobName: job})
}

func runDiff(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	docID, _ := fs.GetString("document")
	diffA, _ := fs.GetString("a")
	diffB, _ := fs.GetString("b")
	prefer, _ := fs.GetStringSlice("prefer")
	if docID == "" || diffA == "" || diffB == "" {
		return nil, errors.New("--document, --a and --b are required")
	}
	return services.NewReviewWith(a.store, nil).View(ctx, &models.ReviewViewRequest{
		DocumentID: docID,
		Preference: prefer,
		DiffA:      diffA,
		DiffB:      diffB,
	})
}

func runStatus(ctx context.Context, a *app, fs *pflag.FlagSet) (any, error) {
	docID, _ := fs.GetString("document")
	state, _ := fs.GetString("status")
	switch {
	case docID != "":
		return services.NewReviewWith(a.store, nil).Status(ctx, docID)
	case state != "":
		return a.store.ListDocumentsByStatus(ctx, state)
	default:
		return nil, errors.New("one of --document or --status is required")
	}
}
