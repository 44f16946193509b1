// Package gcs writes descriptor passes to Google Cloud Storage objects.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/catalog"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

const contentType = "application/x-ndjson"

// Config captures the parameters for a GCS catalog object.
type Config struct {
	Bucket string
	Object string
}

// Sink buffers descriptor lines in memory and uploads them as one object
// on Commit. GCS object writes are atomic, so readers of the object only
// ever see a complete pass.
type Sink struct {
	client *storage.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	buf    bytes.Buffer
	count  int
	closed bool
}

// NewSink creates a GCS-backed catalog sink.
func NewSink(client *storage.Client, cfg Config, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Object == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Write appends one descriptor line to the pending upload.
func (s *Sink) Write(ctx context.Context, res glossary.Resource) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	line, err := catalog.EncodeLine(res)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("catalog gs://%s/%s is already closed", s.cfg.Bucket, s.cfg.Object)
	}
	s.buf.Write(line)
	s.count++
	return nil
}

// Commit uploads the buffered pass as one object. Committing an
// already-finished sink is a no-op.
func (s *Sink) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	writer := s.client.Bucket(s.cfg.Bucket).Object(s.cfg.Object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(s.buf.Bytes()); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("upload catalog: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("upload catalog: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close catalog writer: %w", err)
	}

	s.logger.Info("catalog uploaded",
		zap.String("uri", fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, s.cfg.Object)),
		zap.Int("descriptors", s.count),
	)
	return nil
}

// Discard drops the buffered pass without uploading anything, leaving
// whatever object a previous pass published in place. Discarding a
// finished sink is a no-op.
func (s *Sink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Reset()

	s.logger.Info("catalog discarded",
		zap.String("uri", fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, s.cfg.Object)),
		zap.Int("descriptors", s.count),
	)
	return nil
}
