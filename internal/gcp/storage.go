package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/disclosureflow/internal/blobstore"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	uploadRetries = 4
	uploadTimeout = 50 * time.Second
)

// Bucket is a blobstore.Store backed by a GCS bucket.
type Bucket struct {
	handle *storage.BucketHandle
	name   string
}

// NewBucket wraps a bucket of an existing storage client.
func NewBucket(client *storage.Client, name string) *Bucket {
	return &Bucket{handle: client.Bucket(name), name: name}
}

// Name is the bucket name.
func (b *Bucket) Name() string { return b.name }

func (b *Bucket) URI(object string) string {
	return fmt.Sprintf("gs://%s/%s", b.name, object)
}

func (b *Bucket) Get(ctx context.Context, object string) ([]byte, error) {
	r, err := b.handle.Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrObjectNotFound, b.URI(object))
		}
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", b.URI(object), err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.URI(object), err)
	}
	return data, nil
}

// Put uploads data, retrying with exponential backoff.
func (b *Bucket) Put(ctx context.Context, object string, data []byte, contentType string) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < uploadRetries; i++ {
		err := b.write(ctx, object, data, contentType, nil)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", uploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

// PutIfAbsent writes the object only if it doesn't already exist. An
// existing object is not a failure in an idempotent pipeline.
func (b *Bucket) PutIfAbsent(ctx context.Context, object string, data []byte, contentType string) (bool, error) {
	err := b.write(ctx, object, data, contentType, &storage.Conditions{DoesNotExist: true})
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		slog.Info("Object already exists, skipping write.", "gcsObject", object)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Bucket) write(ctx context.Context, object string, data []byte, contentType string, cond *storage.Conditions) error {
	writeCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	obj := b.handle.Object(object)
	if cond != nil {
		obj = obj.If(*cond)
	}
	w := obj.NewWriter(writeCtx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// List returns the names of objects under prefix in lexical order.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// OpenConcatenated streams every object under prefix whose name ends in
// suffix, one after another, separated by newlines.
func (b *Bucket) OpenConcatenated(ctx context.Context, prefix, suffix string) (io.ReadCloser, error) {
	names, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var selected []string
	for _, n := range names {
		if strings.HasSuffix(n, suffix) {
			selected = append(selected, n)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no %s objects under %s", blobstore.ErrObjectNotFound, suffix, b.URI(prefix))
	}

	pr, pw := io.Pipe()
	go func() {
		for _, n := range selected {
			r, err := b.handle.Object(n).NewReader(ctx)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("failed to open %s: %w", b.URI(n), err))
				return
			}
			_, err = io.Copy(pw, r)
			r.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("failed to read %s: %w", b.URI(n), err))
				return
			}
			if _, err := pw.Write([]byte("\n")); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return pr, nil
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, object, nil
}
