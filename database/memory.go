package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/ortelius/patchgraph/model"
)

// MemoryStore is an in-process GraphStore. It enforces unique document keys
// the same way ArangoDB does and is used for tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	collections map[string]*memCollection
	nextKey     int
	calls       []string

	// failure injection
	failures    map[string]error
	staleExists map[string]bool
}

type memCollection struct {
	kind CollectionKind
	docs map[string]map[string]any
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		failures:    make(map[string]error),
		staleExists: make(map[string]bool),
		nextKey:     1,
	}
}

// FailOn makes the named operation fail with err. Op is one of
// "CollectionExists", "CreateCollection", "DocumentExists", "InsertDocument",
// "InsertEdge", "ReadDocument", optionally suffixed with ":<collection>" to
// restrict the failure to one collection. A nil err clears the failure.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// SetStaleExists makes DocumentExists report false for every key in the
// collection, as a reader racing a concurrent writer would observe.
func (m *MemoryStore) SetStaleExists(collection string, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleExists[collection] = stale
}

// Calls returns the operations recorded so far, as "Op:collection".
func (m *MemoryStore) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns the number of documents in a collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok {
		return 0
	}
	return len(col.docs)
}

// Documents returns copies of all documents in a collection.
func (m *MemoryStore) Documents(collection string) []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(col.docs))
	for _, doc := range col.docs {
		cp := make(map[string]any, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// CollectionNames returns the names of all collections with their kinds.
func (m *MemoryStore) CollectionNames() map[string]CollectionKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CollectionKind, len(m.collections))
	for name, col := range m.collections {
		out[name] = col.kind
	}
	return out
}

// record must be called with mu held.
func (m *MemoryStore) record(op, collection string) error {
	m.calls = append(m.calls, op+":"+collection)
	if err, ok := m.failures[op+":"+collection]; ok {
		return err
	}
	if err, ok := m.failures[op]; ok {
		return err
	}
	return nil
}

// CollectionExists implements GraphStore.
func (m *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CollectionExists", name); err != nil {
		return false, err
	}
	_, ok := m.collections[name]
	return ok, nil
}

// CollectionKind implements KindInspector.
func (m *MemoryStore) CollectionKind(_ context.Context, name string) (CollectionKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CollectionKind", name); err != nil {
		return "", err
	}
	col, err := m.collection(name)
	if err != nil {
		return "", err
	}
	return col.kind, nil
}

// CreateCollection implements GraphStore. Creating an existing collection
// fails with ErrDuplicateKey.
func (m *MemoryStore) CreateCollection(_ context.Context, name string, kind CollectionKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateCollection", name); err != nil {
		return err
	}
	if _, ok := m.collections[name]; ok {
		return WrapError(ErrCodeDuplicateKey, "collection already exists", fmt.Errorf("collection %s", name))
	}
	m.collections[name] = &memCollection{kind: kind, docs: make(map[string]map[string]any)}
	return nil
}

// DocumentExists implements GraphStore.
func (m *MemoryStore) DocumentExists(_ context.Context, collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DocumentExists", collection); err != nil {
		return false, err
	}
	col, err := m.collection(collection)
	if err != nil {
		return false, err
	}
	if m.staleExists[collection] {
		return false, nil
	}
	_, ok := col.docs[key]
	return ok, nil
}

// InsertDocument implements GraphStore.
func (m *MemoryStore) InsertDocument(_ context.Context, collection, key string, fields any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("InsertDocument", collection); err != nil {
		return "", err
	}
	return m.insert(collection, key, fields)
}

// InsertEdge implements GraphStore.
func (m *MemoryStore) InsertEdge(_ context.Context, collection string, edge model.EdgeDocument) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("InsertEdge", collection); err != nil {
		return "", err
	}
	col, err := m.collection(collection)
	if err != nil {
		return "", err
	}
	if col.kind != KindEdge {
		return "", fmt.Errorf("collection %s is not an edge collection", collection)
	}
	return m.insert(collection, edge.Key, edge)
}

// ReadDocument implements GraphStore.
func (m *MemoryStore) ReadDocument(_ context.Context, collection, key string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ReadDocument", collection); err != nil {
		return err
	}
	col, err := m.collection(collection)
	if err != nil {
		return err
	}
	doc, ok := col.docs[key]
	if !ok {
		return WrapError(ErrCodeNotFound, "document not found", fmt.Errorf("%s", DocumentID(collection, key)))
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// collection must be called with mu held.
func (m *MemoryStore) collection(name string) (*memCollection, error) {
	col, ok := m.collections[name]
	if !ok {
		return nil, WrapError(ErrCodeNotFound, "collection not found", fmt.Errorf("collection %s", name))
	}
	return col, nil
}

// insert must be called with mu held.
func (m *MemoryStore) insert(collection, key string, fields any) (string, error) {
	col, err := m.collection(collection)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("document for %s is not an object: %w", collection, err)
	}

	if key == "" {
		if k, ok := doc["_key"].(string); ok {
			key = k
		}
	}
	if key == "" {
		key = strconv.Itoa(m.nextKey)
		m.nextKey++
	}
	if _, exists := col.docs[key]; exists {
		return "", WrapError(ErrCodeDuplicateKey, "document key already exists", fmt.Errorf("%s", DocumentID(collection, key)))
	}

	doc["_key"] = key
	doc["_id"] = DocumentID(collection, key)
	col.docs[key] = doc
	return key, nil
}

var _ GraphStore = (*MemoryStore)(nil)
