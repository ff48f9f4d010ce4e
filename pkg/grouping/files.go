package grouping

import (
	"context"
	"fmt"
	"path"

	"github.com/haivivi/speakerid/pkg/storage"
)

// Files stores groups as directories of a FileStore:
//
//	{root}/{group}/{item}
type Files struct {
	fs   storage.FileStore
	root string
}

// NewFiles creates a grouping under root, typically
// "<conversation>/speakers".
func NewFiles(fs storage.FileStore, root string) *Files {
	return &Files{fs: fs, root: root}
}

func (f *Files) dir(group string) string { return path.Join(f.root, group) }

func (f *Files) Put(ctx context.Context, group, item string, data []byte) error {
	return storage.WriteFile(ctx, f.fs, path.Join(f.dir(group), item), data)
}

func (f *Files) Regroup(ctx context.Context, from, to, item string) error {
	if from == to {
		return nil
	}
	src := path.Join(f.dir(from), item)
	dst := path.Join(f.dir(to), item)
	ok, err := f.fs.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		// Already moved by an earlier attempt.
		if done, err := f.fs.Exists(ctx, dst); err != nil || done {
			return err
		}
		return fmt.Errorf("%w: %s/%s", ErrNotFound, from, item)
	}
	if err := f.fs.Rename(ctx, src, dst); err != nil {
		return err
	}
	return f.prune(ctx, from)
}

func (f *Files) RegroupAll(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	return storage.MoveDir(ctx, f.fs, f.dir(from), f.dir(to))
}

func (f *Files) prune(ctx context.Context, group string) error {
	empty, err := storage.IsEmptyDir(ctx, f.fs, f.dir(group))
	if err != nil || !empty {
		return err
	}
	return f.fs.Delete(ctx, f.dir(group))
}

func (f *Files) Items(ctx context.Context, group string) ([]string, error) {
	return storage.Files(ctx, f.fs, f.dir(group))
}

func (f *Files) Groups(ctx context.Context) ([]string, error) {
	entries, err := f.fs.List(ctx, f.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Dir {
			continue
		}
		empty, err := storage.IsEmptyDir(ctx, f.fs, f.dir(e.Name))
		if err != nil {
			return nil, err
		}
		if !empty {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

var _ Store = (*Files)(nil)
