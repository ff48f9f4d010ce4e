package vecstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/speakerid/pkg/kv"
)

// Key layout (relative to the store prefix):
//
//	{prefix}/rec/{id}           → msgpack-encoded Record
//	{prefix}/spk/{speaker}/{id} → empty (speaker index)
//
// The speaker index serves the per-speaker scans used by duplicate checks
// and the verification gate without decoding every record.

// KV is a Store persisted in a kv.Store.
type KV struct {
	store  kv.Store
	prefix kv.Key
}

// NewKV creates a vector store under prefix in store.
func NewKV(store kv.Store, prefix kv.Key) *KV {
	return &KV{store: store, prefix: prefix}
}

func (s *KV) recKey(id string) kv.Key { return s.prefix.Append("rec", id) }

func (s *KV) spkKey(name, id string) kv.Key { return s.prefix.Append("spk", name, id) }

func (s *KV) get(ctx context.Context, id string) (Record, bool, error) {
	b, err := s.store.Get(ctx, s.recKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("vecstore: decode %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *KV) Upsert(ctx context.Context, recs ...Record) error {
	var (
		sets    []kv.Entry
		deletes []kv.Key
	)
	for _, r := range recs {
		if err := r.validate(); err != nil {
			return err
		}
		prev, ok, err := s.get(ctx, r.ID)
		if err != nil {
			return err
		}
		if ok && prev.Metadata.SpeakerName != r.Metadata.SpeakerName {
			deletes = append(deletes, s.spkKey(prev.Metadata.SpeakerName, r.ID))
		}
		b, err := msgpack.Marshal(&r)
		if err != nil {
			return fmt.Errorf("vecstore: encode %s: %w", r.ID, err)
		}
		sets = append(sets,
			kv.Entry{Key: s.recKey(r.ID), Value: b},
			kv.Entry{Key: s.spkKey(r.Metadata.SpeakerName, r.ID), Value: []byte{}},
		)
	}
	if len(deletes) > 0 {
		if err := s.store.BatchDelete(ctx, deletes); err != nil {
			return err
		}
	}
	return s.store.BatchSet(ctx, sets)
}

// scan calls fn for every record matching f. A speaker filter walks the
// speaker index; otherwise all records are decoded.
func (s *KV) scan(ctx context.Context, f *Filter, fn func(Record) bool) error {
	if f != nil && f.SpeakerName != "" {
		for e, err := range s.store.List(ctx, s.prefix.Append("spk", f.SpeakerName)) {
			if err != nil {
				return err
			}
			id := e.Key[len(e.Key)-1]
			rec, ok, err := s.get(ctx, id)
			if err != nil {
				return err
			}
			if ok && f.match(rec.Metadata) && !fn(rec) {
				return nil
			}
		}
		return nil
	}
	for e, err := range s.store.List(ctx, s.prefix.Append("rec")) {
		if err != nil {
			return err
		}
		var rec Record
		if err := msgpack.Unmarshal(e.Value, &rec); err != nil {
			return fmt.Errorf("vecstore: decode %s: %w", e.Key, err)
		}
		if f.match(rec.Metadata) && !fn(rec) {
			return nil
		}
	}
	return nil
}

func (s *KV) Query(ctx context.Context, vec []float32, k int, f *Filter) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	r := ranker{query: vec, k: k}
	err := s.scan(ctx, f, func(rec Record) bool {
		r.add(rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return r.results(), nil
}

func (s *KV) Fetch(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		rec, ok, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *KV) Delete(ctx context.Context, ids ...string) error {
	var keys []kv.Key
	for _, id := range ids {
		rec, ok, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		keys = append(keys, s.recKey(id), s.spkKey(rec.Metadata.SpeakerName, id))
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.BatchDelete(ctx, keys)
}

// List returns records ordered by ID. With a speaker filter the speaker
// index already yields IDs in order.
func (s *KV) List(ctx context.Context, f *Filter, limit int) ([]Record, error) {
	var out []Record
	err := s.scan(ctx, f, func(rec Record) bool {
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*KV)(nil)
