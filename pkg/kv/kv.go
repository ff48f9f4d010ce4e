// Package kv is the key-value persistence layer under the speaker database
// and the job store.
//
// Keys are hierarchical paths (for example {"vec", "rec", "speaker_Ann_1f2e"})
// encoded with a separator byte. The default separator is the ASCII unit
// separator (0x1F) so that segments may carry speaker names containing ':'
// or '/'.
//
// Two backends are provided: [Badger] for on-disk persistence and [Memory]
// for tests and ephemeral runs.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String renders the key for logs, joined with '/'.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Append returns a new key with the given segments added. The receiver is
// never modified.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry is a key-value pair yielded by List and accepted by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys.
//
// Implementations must be safe for concurrent use. Each method call is an
// atomic unit; there are no multi-call transactions.
type Store interface {
	// Get returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields every entry under prefix in lexicographic key order.
	// An empty prefix lists the whole store.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet writes all entries atomically.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes all keys atomically.
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}

// DefaultSeparator joins key segments in the encoded form.
const DefaultSeparator byte = 0x1F

// Options configures key encoding. A nil *Options is valid and uses the
// defaults.
type Options struct {
	Separator byte
}

func (o *Options) sep() byte {
	if o == nil || o.Separator == 0 {
		return DefaultSeparator
	}
	return o.Separator
}

func (o *Options) encode(k Key) []byte {
	return []byte(strings.Join(k, string(o.sep())))
}

// prefixBytes returns the encoded scan prefix for List. A trailing separator
// is added so {"a","b"} never matches {"a","bc"}.
func (o *Options) prefixBytes(k Key) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(o.encode(k), o.sep())
}

func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}
