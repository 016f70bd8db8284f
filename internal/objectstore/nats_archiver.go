// Package objectstore archives finished audio in a NATS JetStream object
// store and announces each upload on a NATS subject.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/lexiqai/synthesis-gateway/internal/observability"
	"github.com/lexiqai/synthesis-gateway/internal/resilience"
	"github.com/lexiqai/synthesis-gateway/internal/synthesis"
)

// Event is published on the completion subject after an upload.
type Event struct {
	JobID       string `json:"jobId"`
	Kind        string `json:"kind"`
	Language    string `json:"language"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	OutputPath  string `json:"outputPath"`
	SizeBytes   int64  `json:"sizeBytes"`
	DurationMs  int64  `json:"durationMs"`
	CompletedAt string `json:"completedAt"`
}

// Options configures an Archiver.
type Options struct {
	Bucket  string
	Subject string
	// OutputDir is stripped from output paths to build object keys.
	OutputDir string
	Retry     *resilience.RetryConfig
	Logger    zerolog.Logger
}

// Archiver uploads results to an object store bucket.
type Archiver struct {
	conn    *nats.Conn
	store   nats.ObjectStore
	bucket  string
	subject string
	root    string
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewArchiver creates the bucket, or binds to it when it already exists.
func NewArchiver(conn *nats.Conn, opts Options) (*Archiver, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      opts.Bucket,
		Description: fmt.Sprintf("Synthesized audio archive (%s)", opts.Bucket),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", opts.Bucket, err)
		}

		store, err = js.ObjectStore(opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", opts.Bucket, err)
		}
	}

	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	return &Archiver{
		conn:    conn,
		store:   store,
		bucket:  opts.Bucket,
		subject: opts.Subject,
		root:    opts.OutputDir,
		retry:   opts.Retry,
		logger:  opts.Logger,
	}, nil
}

// Publish uploads the result's audio and then publishes its Event.
func (a *Archiver) Publish(ctx context.Context, res synthesis.Result) error {
	key, err := a.key(res.OutputPath)
	if err != nil {
		return err
	}

	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return a.upload(ctx, key, res.OutputPath)
	}, a.retry, retryableUpload)
	observability.RecordArchiveUpload(err == nil)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}

	event := Event{
		JobID:       res.JobID,
		Kind:        string(res.Kind),
		Language:    res.Language,
		Bucket:      a.bucket,
		Key:         key,
		OutputPath:  res.OutputPath,
		SizeBytes:   res.SizeBytes,
		DurationMs:  res.DurationMs,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	if a.subject != "" {
		if err := a.conn.Publish(a.subject, data); err != nil {
			return fmt.Errorf("failed to publish completion event: %w", err)
		}
	}

	a.logger.Debug().
		Str("job_id", res.JobID).
		Str("bucket", a.bucket).
		Str("key", key).
		Msg("Result archived")

	return nil
}

func (a *Archiver) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = a.store.Put(&nats.ObjectMeta{Name: key}, f, nats.Context(ctx))
	if err != nil {
		err = fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, a.bucket, err)
		if errors.Is(err, nats.ErrConnectionReconnecting) {
			return resilience.NewRetryableError(err)
		}
		return err
	}

	return nil
}

// retryableUpload retries transient transport errors. A missing output file
// never reappears, so it is not retried.
func retryableUpload(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

// Healthy reports whether the NATS connection is up.
func (a *Archiver) Healthy(context.Context) (bool, error) {
	if status := a.conn.Status(); status != nats.CONNECTED {
		return false, fmt.Errorf("nats connection is %s", status)
	}
	return true, nil
}

// key is the slash-separated path of out relative to the output root.
func (a *Archiver) key(out string) (string, error) {
	rel, err := filepath.Rel(a.root, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output %s is outside %s", out, a.root)
	}
	return filepath.ToSlash(rel), nil
}
