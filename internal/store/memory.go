package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process memory. It serves single-instance
// development runs and tests; state is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]json.RawMessage)}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Get(ctx context.Context, collection, id string, dst any) error {
	s.mu.RLock()
	raw, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, raw)
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; ok {
		return ErrAlreadyExists
	}
	s.put(collection, id, raw)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.decode(collection, id)
	if err != nil {
		return err
	}
	return s.merge(collection, id, doc, fields)
}

func (s *MemoryStore) UpdateIf(ctx context.Context, collection, id, field string, expected any, fields map[string]any) error {
	want, err := normalize(expected)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.decode(collection, id)
	if err != nil {
		return err
	}
	if !matches(doc, Filter{Field: field, Op: OpEq}, want) {
		return ErrConflict
	}
	return s.merge(collection, id, doc, fields)
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Snapshot, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	values := make([]any, len(filters))
	for i, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		snap Snapshot
		doc  map[string]any
	}
	var rows []row
	for id, raw := range s.collections[collection] {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		ok := true
		for i, f := range filters {
			if !matches(doc, f, values[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, row{snap: Snapshot{ID: id, Data: raw}, doc: doc})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if opts.OrderBy != "" {
			c, ok := compare(rows[i].doc[opts.OrderBy], rows[j].doc[opts.OrderBy])
			if ok && c != 0 {
				return c < 0
			}
		}
		return rows[i].snap.ID < rows[j].snap.ID
	})

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snap
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) put(collection, id string, raw json.RawMessage) {
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.collections[collection] = c
	}
	c[id] = raw
}

func (s *MemoryStore) decode(collection, id string) (map[string]any, error) {
	raw, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *MemoryStore) merge(collection, id string, doc map[string]any, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch %s/%s: %w", collection, id, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(patch, &decoded); err != nil {
		return err
	}
	for k, v := range decoded {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.put(collection, id, raw)
	return nil
}
