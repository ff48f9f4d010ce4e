// Package grouping tracks which speaker group each utterance artifact of a
// conversation belongs to.
//
// A group is keyed by the normalized speaker name (see [Key]); an item is an
// artifact name such as "utterance_007.wav". Every item lives in exactly one
// group at a time. Changing an utterance's speaker is a Regroup: a move, not
// a copy, after which an emptied source group disappears.
package grouping

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a group or item does not exist.
var ErrNotFound = errors.New("grouping: not found")

// Key normalizes a speaker name into a group key.
func Key(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// Store is a per-conversation grouping of artifacts.
type Store interface {
	// Put places item in group, creating the group.
	Put(ctx context.Context, group, item string, data []byte) error

	// Regroup moves item from one group to another and prunes from when it
	// becomes empty. Moving an item already in to is a no-op.
	Regroup(ctx context.Context, from, to, item string) error

	// RegroupAll moves every item of from into to and removes from.
	RegroupAll(ctx context.Context, from, to string) error

	// Items lists the items of group in name order. A missing group has
	// no items.
	Items(ctx context.Context, group string) ([]string, error)

	// Groups lists non-empty groups in name order.
	Groups(ctx context.Context) ([]string, error)
}
