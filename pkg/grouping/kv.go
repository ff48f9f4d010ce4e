package grouping

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/haivivi/speakerid/pkg/kv"
)

// KV stores groups in a kv.Store:
//
//	{prefix}/{group}/{item} → artifact bytes
//
// Each Regroup is a single batch write followed by a delete; a retry after
// a crash between the two finds the item in both groups and completes the
// delete.
type KV struct {
	store  kv.Store
	prefix kv.Key
}

// NewKV creates a grouping under prefix, e.g. {"groups", conversationID}.
func NewKV(store kv.Store, prefix kv.Key) *KV {
	return &KV{store: store, prefix: prefix}
}

func (g *KV) key(group, item string) kv.Key { return g.prefix.Append(group, item) }

func (g *KV) Put(ctx context.Context, group, item string, data []byte) error {
	return g.store.Set(ctx, g.key(group, item), data)
}

func (g *KV) Regroup(ctx context.Context, from, to, item string) error {
	if from == to {
		return nil
	}
	data, err := g.store.Get(ctx, g.key(from, item))
	if errors.Is(err, kv.ErrNotFound) {
		if _, err := g.store.Get(ctx, g.key(to, item)); err == nil {
			return nil
		}
		return fmt.Errorf("%w: %s/%s", ErrNotFound, from, item)
	}
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, g.key(to, item), data); err != nil {
		return err
	}
	// Groups exist only through their items, so deleting the last item
	// prunes the group.
	return g.store.Delete(ctx, g.key(from, item))
}

func (g *KV) RegroupAll(ctx context.Context, from, to string) error {
	items, err := g.Items(ctx, from)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := g.Regroup(ctx, from, to, item); err != nil {
			return err
		}
	}
	return nil
}

func (g *KV) Items(ctx context.Context, group string) ([]string, error) {
	var out []string
	for e, err := range g.store.List(ctx, g.prefix.Append(group)) {
		if err != nil {
			return nil, err
		}
		out = append(out, e.Key[len(e.Key)-1])
	}
	return out, nil
}

func (g *KV) Groups(ctx context.Context) ([]string, error) {
	var out []string
	for e, err := range g.store.List(ctx, g.prefix) {
		if err != nil {
			return nil, err
		}
		out = append(out, e.Key[len(g.prefix)])
	}
	return slices.Compact(out), nil
}

var _ Store = (*KV)(nil)
