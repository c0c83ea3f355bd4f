package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"datachat/internal/logging"
)

// Observer is notified after every disk read attempt.
type Observer func(outcome string, elapsed time.Duration)

// Loader reads the dataset at a fixed path once per process and serves the
// cached Table afterwards.
//
// Reads of the cached table are lock-free. A single writer publishes it: the
// first successful load, with concurrent first callers collapsed onto that one
// read. Failed loads are not cached, so the next call reads the file again.
// Callers must treat the returned Table as read-only.
type Loader struct {
	path     string
	table    atomic.Pointer[Table]
	group    singleflight.Group
	logger   *slog.Logger
	observer Observer
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers a callback for each disk read.
func WithObserver(fn Observer) Option {
	return func(l *Loader) {
		l.observer = fn
	}
}

// NewLoader builds a loader bound to path.
func NewLoader(path string, opts ...Option) *Loader {
	l := &Loader{path: path, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load returns the cached table, reading the file on first use.
func (l *Loader) Load(ctx context.Context) (*Table, error) {
	if t := l.table.Load(); t != nil {
		return t, nil
	}
	ch := l.group.DoChan(l.path, func() (interface{}, error) {
		if t := l.table.Load(); t != nil {
			return t, nil
		}
		t, err := l.read()
		if err != nil {
			return nil, err
		}
		l.table.Store(t)
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	}
}

func (l *Loader) read() (*Table, error) {
	start := time.Now()
	t, err := readFile(l.path)
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		l.logger.Error("dataset load failed", "path", l.path, "error", err)
	} else {
		l.logger.Info("dataset loaded", "path", l.path, "rows", t.NumRows(), "cols", t.NumCols(), "elapsed", elapsed)
	}
	if l.observer != nil {
		l.observer(outcome, elapsed)
	}
	return t, err
}

func readFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	t, err := ReadCSV(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	return t, nil
}
