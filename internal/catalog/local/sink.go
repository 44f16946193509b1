// Package local writes descriptor passes to JSONL files on the local
// filesystem.
package local

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/catalog"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// Sink streams descriptors into a temp file next to the target path and
// renames it into place on Commit. Readers of the target path only ever
// see a complete pass, never a half-written one.
type Sink struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	tmp   *os.File
	w     *bufio.Writer
	count int
}

// NewSink opens a sink targeting path, creating parent directories as
// needed. The temp file lives in the same directory so the final rename
// stays on one filesystem.
func NewSink(path string, logger *zap.Logger) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create catalog dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create catalog temp file in %s: %w", dir, err)
	}
	return &Sink{
		path:   path,
		logger: logger,
		tmp:    tmp,
		w:      bufio.NewWriter(tmp),
	}, nil
}

// Path returns the target path the sink publishes to.
func (s *Sink) Path() string {
	return s.path
}

// Write appends one descriptor line to the pending file.
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
	if s.tmp == nil {
		return fmt.Errorf("catalog %s is already closed", s.path)
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write descriptor to %s: %w", s.path, err)
	}
	s.count++
	return nil
}

// Commit flushes the pending file and renames it over the target path.
// Committing an already-finished sink is a no-op.
func (s *Sink) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return nil
	}
	tmpName := s.tmp.Name()
	flushErr := s.w.Flush()
	closeErr := s.tmp.Close()
	s.tmp = nil
	s.w = nil

	if flushErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flush catalog %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close catalog %s: %w", s.path, closeErr)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish catalog %s: %w", s.path, err)
	}
	s.logger.Info("catalog written",
		zap.String("path", s.path),
		zap.Int("descriptors", s.count),
	)
	return nil
}

// Discard drops the pending file without touching the target path, leaving
// whatever catalog a previous pass published in place. Discarding a
// finished sink is a no-op.
func (s *Sink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmp == nil {
		return nil
	}
	tmpName := s.tmp.Name()
	closeErr := s.tmp.Close()
	s.tmp = nil
	s.w = nil

	if err := os.Remove(tmpName); err != nil {
		return fmt.Errorf("discard catalog temp %s: %w", tmpName, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close catalog temp %s: %w", tmpName, closeErr)
	}
	s.logger.Info("catalog discarded",
		zap.String("path", s.path),
		zap.Int("descriptors", s.count),
	)
	return nil
}
