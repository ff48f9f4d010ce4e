// Package convlock serializes work on one conversation, within the process
// and across processes sharing a lock directory.
package convlock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultRetry is the file lock polling interval.
const DefaultRetry = 100 * time.Millisecond

// Locker hands out per-conversation locks.
type Locker struct {
	dir    string
	retry  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// Option configures a Locker.
type Option func(*Locker)

// WithRetry sets the file lock polling interval.
func WithRetry(d time.Duration) Option {
	return func(l *Locker) { l.retry = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New creates a Locker keeping lock files in dir. An empty dir locks
// within the process only.
func New(dir string, opts ...Option) *Locker {
	l := &Locker{
		dir:    dir,
		retry:  DefaultRetry,
		logger: slog.Default(),
		slots:  make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Locker) slot(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// Lock blocks until conversation id is free or ctx ends.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	ch := l.slot(id)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.dir == "" {
		return func() { <-ch }, nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		<-ch
		return nil, fmt.Errorf("convlock: %w", err)
	}
	fl := flock.New(filepath.Join(l.dir, id+".lock"))
	ok, err := fl.TryLockContext(ctx, l.retry)
	if err != nil || !ok {
		<-ch
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("convlock: lock %s: %w", id, err)
	}
	l.logger.Debug("convlock: acquired", "conversation", id)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := fl.Unlock(); err != nil {
				l.logger.Warn("convlock: release failed", "conversation", id, "error", err)
			}
			<-ch
		})
	}, nil
}
