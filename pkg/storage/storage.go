// Package storage defines FileStore, the file-oriented persistence used for
// processed conversations: original audio, per-utterance WAV artifacts,
// speaker groupings, manifests and transcripts.
//
// Paths are forward-slash separated and relative to the store root. A
// "directory" is any path prefix; on object stores it exists only while it
// has children.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
)

// FileStore is the storage backend contract. Implementations must be safe
// for concurrent use.
type FileStore interface {
	// Read opens path. A missing file yields an error wrapping fs.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write replaces or creates path, creating parents as needed. Data is
	// committed on Close.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes a file or an empty directory. Missing paths are ignored.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is an existing file.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the direct children of dir sorted by name. A missing
	// directory lists as empty.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Rename moves a file, replacing any file already at to. A missing
	// source yields an error wrapping fs.ErrNotExist.
	Rename(ctx context.Context, from, to string) error
}

// Entry is one child returned by List.
type Entry struct {
	Name string
	Dir  bool
}

// ReadFile reads the whole file at path.
func ReadFile(ctx context.Context, store FileStore, path string) ([]byte, error) {
	r, err := store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile replaces the file at path with data.
func WriteFile(ctx context.Context, store FileStore, path string, data []byte) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		if a, ok := w.(Aborter); ok {
			a.Abort()
		} else {
			w.Close()
		}
		return err
	}
	return w.Close()
}

// An Aborter is a writer from FileStore.Write that can discard what was
// written instead of committing it on Close.
type Aborter interface {
	Abort() error
}

var errAborted = errors.New("storage: write aborted")

// IsNotExist reports whether err means the path is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Files returns the names of the regular files directly under dir.
func Files(ctx context.Context, store FileStore, dir string) ([]string, error) {
	entries, err := store.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Dir {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// MoveDir moves every file below from to the same relative path below to,
// then removes the emptied source directories. Files already present at the
// destination are replaced.
func MoveDir(ctx context.Context, store FileStore, from, to string) error {
	entries, err := store.List(ctx, from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		src, dst := from+"/"+e.Name, to+"/"+e.Name
		if e.Dir {
			err = MoveDir(ctx, store, src, dst)
		} else {
			err = store.Rename(ctx, src, dst)
		}
		if err != nil {
			return err
		}
	}
	return store.Delete(ctx, from)
}

// IsEmptyDir reports whether dir has no children. Missing directories are
// empty.
func IsEmptyDir(ctx context.Context, store FileStore, dir string) (bool, error) {
	entries, err := store.List(ctx, dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
