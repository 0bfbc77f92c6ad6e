package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudstore/cloudstore-go/internal/utils"
)

// memoryEngines holds one engine per address/database so that separate
// connections to the same memory DSN share data for the life of the process.
var (
	memoryEnginesMu sync.Mutex
	memoryEngines   = map[string]*memoryEngine{}
)

func openMemoryEngine(d DSN) *memoryEngine {
	memoryEnginesMu.Lock()
	defer memoryEnginesMu.Unlock()
	key := d.Address() + "/" + d.Database
	if e, ok := memoryEngines[key]; ok {
		return e
	}
	e := newMemoryEngine()
	memoryEngines[key] = e
	return e
}

// memoryEngine is the in-process storage engine. A single RWMutex serialises
// writers, which also gives one-at-a-time updates per document.
type memoryEngine struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]*memCollection
}

type memCollection struct {
	docs    map[string]*memDoc
	indexes map[string]memIndex
}

type memDoc struct {
	seq int64
	doc Document
}

type memIndex struct {
	fields []string
	unique bool
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{collections: make(map[string]*memCollection)}
}

func (m *memoryEngine) name() string { return "memory" }

func (m *memoryEngine) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]*memDoc), indexes: make(map[string]memIndex)}
		m.collections[name] = c
	}
	return c
}

func (m *memoryEngine) insert(ctx context.Context, collection string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)

	// validate the whole batch before touching state
	pending := make(map[string]Document, len(docs))
	for _, d := range docs {
		if _, ok := c.docs[d.ID]; ok {
			return fmt.Errorf("%w: duplicate id %s", ErrConstraintViolation, d.ID)
		}
		if _, ok := pending[d.ID]; ok {
			return fmt.Errorf("%w: duplicate id %s", ErrConstraintViolation, d.ID)
		}
		if err := c.checkUnique(d, pending); err != nil {
			return err
		}
		pending[d.ID] = d
	}
	for _, d := range docs {
		m.seq++
		c.docs[d.ID] = &memDoc{seq: m.seq, doc: d.clone()}
	}
	return nil
}

func (m *memoryEngine) findOne(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d.doc.clone(), nil
}

func (m *memoryEngine) find(ctx context.Context, q findQuery) (findPage, error) {
	if err := ctx.Err(); err != nil {
		return findPage{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	until := q.untilSeq
	if until == 0 {
		until = m.seq
	}
	page := findPage{untilSeq: until}
	c, ok := m.collections[q.collection]
	if !ok {
		return page, nil
	}

	matched := make([]*memDoc, 0, len(c.docs))
	for _, d := range c.docs {
		if d.seq > until || !matches(d.doc, q.where) {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	page.total = len(matched)

	for _, d := range matched {
		if d.seq <= q.afterSeq {
			continue
		}
		if len(page.docs) == q.limit {
			page.hasMore = true
			break
		}
		page.docs = append(page.docs, d.doc.clone())
		page.lastSeq = d.seq
	}
	return page, nil
}

func (m *memoryEngine) update(ctx context.Context, collection, id string, patch map[string]any, upsert bool, now string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)

	existing, ok := c.docs[id]
	if !ok {
		if !upsert {
			return Document{}, ErrNotFound
		}
		d := Document{ID: id, Collection: collection, Data: cloneData(patch), Version: 1, CreatedAt: now, UpdatedAt: now}
		if err := c.checkUnique(d, nil); err != nil {
			return Document{}, err
		}
		m.seq++
		c.docs[id] = &memDoc{seq: m.seq, doc: d}
		return d.clone(), nil
	}

	next := existing.doc.clone()
	for k, v := range patch {
		next.Data[k] = cloneValue(v)
	}
	next.Version++
	next.UpdatedAt = now
	if err := c.checkUnique(next, nil); err != nil {
		return Document{}, err
	}
	existing.doc = next
	return next.clone(), nil
}

func (m *memoryEngine) delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := c.docs[id]; !ok {
		return false, nil
	}
	delete(c.docs, id)
	return true, nil
}

func (m *memoryEngine) createIndex(ctx context.Context, collection, name string, fields []string, unique bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	if ix, ok := c.indexes[name]; ok {
		if ix.unique != unique {
			return fmt.Errorf("%w: index %s already exists with different options", ErrValidation, name)
		}
		return nil
	}
	ix := memIndex{fields: append([]string(nil), fields...), unique: unique}
	if unique {
		seen := make(map[string]string, len(c.docs))
		for id, d := range c.docs {
			key, err := ix.key(d.doc)
			if err != nil {
				return err
			}
			if other, dup := seen[key]; dup {
				return fmt.Errorf("%w: documents %s and %s collide on %s", ErrConstraintViolation, other, id, name)
			}
			seen[key] = id
		}
	}
	c.indexes[name] = ix
	return nil
}

func (m *memoryEngine) listCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.collections))
	for name := range m.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryEngine) close(context.Context) error { return nil }

// checkUnique fails when d collides with a stored document (other than itself)
// or with a document in pending on any unique index.
func (c *memCollection) checkUnique(d Document, pending map[string]Document) error {
	for name, ix := range c.indexes {
		if !ix.unique {
			continue
		}
		key, err := ix.key(d)
		if err != nil {
			return err
		}
		for id, other := range c.docs {
			if id == d.ID {
				continue
			}
			if k, _ := ix.key(other.doc); k == key {
				return fmt.Errorf("%w: %s duplicates %s on %s", ErrConstraintViolation, d.ID, id, name)
			}
		}
		for id, other := range pending {
			if k, _ := ix.key(other); k == key {
				return fmt.Errorf("%w: %s duplicates %s on %s", ErrConstraintViolation, d.ID, id, name)
			}
		}
	}
	return nil
}

// key is the canonical hash of the indexed field values; missing fields are null.
func (ix memIndex) key(d Document) (string, error) {
	tuple := make(map[string]any, len(ix.fields))
	for _, f := range ix.fields {
		tuple[f] = d.Data[f]
	}
	return utils.HashDocument(tuple)
}

// matches applies an equality filter on top-level fields. "_id" matches the
// document ID. Values compare by JSON form so 1 and 1.0 are equal.
func matches(d Document, where map[string]any) bool {
	for k, want := range where {
		if k == "_id" {
			if id, ok := want.(string); !ok || id != d.ID {
				return false
			}
			continue
		}
		got, ok := d.Data[k]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}
