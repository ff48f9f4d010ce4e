// Package jobs records the status of background processing jobs.
package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/speakerid/pkg/kv"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("jobs: not found")

	// ErrInvalidTransition is returned when a job cannot move to the
	// requested state.
	ErrInvalidTransition = errors.New("jobs: invalid transition")
)

// State is the lifecycle state of a job.
type State string

const (
	Queued     State = "queued"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Completed || s == Failed }

func (s State) next(to State) bool {
	switch s {
	case Queued:
		return to == Processing || to == Failed
	case Processing:
		return to == Processing || to == Completed || to == Failed
	}
	return false
}

// Job is one processing request.
type Job struct {
	ID             string    `msgpack:"id" json:"id" yaml:"id"`
	Input          string    `msgpack:"input" json:"input" yaml:"input"`
	State          State     `msgpack:"state" json:"state" yaml:"state"`
	Stage          string    `msgpack:"stage,omitempty" json:"stage,omitempty" yaml:"stage,omitempty"`
	Progress       float64   `msgpack:"progress" json:"progress" yaml:"progress"`
	ConversationID string    `msgpack:"conversation_id,omitempty" json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Error          string    `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt      time.Time `msgpack:"created_at" json:"created_at" yaml:"created_at"`
	StartedAt      time.Time `msgpack:"started_at,omitempty" json:"started_at,omitzero" yaml:"started_at,omitempty"`
	CompletedAt    time.Time `msgpack:"completed_at,omitempty" json:"completed_at,omitzero" yaml:"completed_at,omitempty"`
}

// Key layout (relative to the store prefix):
//
//	{prefix}/{id} → msgpack-encoded Job

// Store persists jobs in a kv.Store. Updates are serialized within the
// process.
type Store struct {
	store  kv.Store
	prefix kv.Key
	now    func() time.Time

	mu sync.Mutex
}

// NewStore creates a job store under prefix.
func NewStore(store kv.Store, prefix kv.Key) *Store {
	return &Store{store: store, prefix: prefix, now: time.Now}
}

func (s *Store) key(id string) kv.Key { return s.prefix.Append(id) }

// Create records a queued job for input.
func (s *Store) Create(ctx context.Context, input string) (*Job, error) {
	j := &Job{
		ID:        uuid.NewString(),
		Input:     input,
		State:     Queued,
		CreatedAt: s.now(),
	}
	if err := s.put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get returns job id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	b, err := s.store.Get(ctx, s.key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := msgpack.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("jobs: decode %s: %w", id, err)
	}
	return &j, nil
}

// List returns every job, oldest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	var out []*Job
	for e, err := range s.store.List(ctx, s.prefix) {
		if err != nil {
			return nil, err
		}
		var j Job
		if err := msgpack.Unmarshal(e.Value, &j); err != nil {
			return nil, fmt.Errorf("jobs: decode %s: %w", e.Key, err)
		}
		out = append(out, &j)
	}
	slices.SortFunc(out, func(a, b *Job) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Start moves a queued job to processing.
func (s *Store) Start(ctx context.Context, id string) (*Job, error) {
	return s.update(ctx, id, Processing, func(j *Job) {
		j.StartedAt = s.now()
	})
}

// Progress records the current stage and completed fraction in [0, 1].
func (s *Store) Progress(ctx context.Context, id, stage string, fraction float64) (*Job, error) {
	return s.update(ctx, id, Processing, func(j *Job) {
		j.Stage = stage
		j.Progress = max(0, min(1, fraction))
	})
}

// Complete marks a job completed with its conversation.
func (s *Store) Complete(ctx context.Context, id, conversationID string) (*Job, error) {
	return s.update(ctx, id, Completed, func(j *Job) {
		j.ConversationID = conversationID
		j.Progress = 1
		j.CompletedAt = s.now()
	})
}

// Fail marks a job failed with cause.
func (s *Store) Fail(ctx context.Context, id string, cause error) (*Job, error) {
	return s.update(ctx, id, Failed, func(j *Job) {
		if cause != nil {
			j.Error = cause.Error()
		}
		j.CompletedAt = s.now()
	})
}

func (s *Store) update(ctx context.Context, id string, to State, fn func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !j.State.next(to) {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, j.State, to)
	}
	j.State = to
	fn(j)
	if err := s.put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) put(ctx context.Context, j *Job) error {
	b, err := msgpack.Marshal(j)
	if err != nil {
		return fmt.Errorf("jobs: encode %s: %w", j.ID, err)
	}
	return s.store.Set(ctx, s.key(j.ID), b)
}
