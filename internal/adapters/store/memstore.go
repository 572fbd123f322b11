package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/pkg/metrics"
)

// In-memory Store implementation with an optional JSON snapshot file.
//
// Schema history:
//   v1 introduces carnets, photos and settings
//   v2 adds students
//   v3 adds temp_photos
// Every step is additive (new collection or new index, never a rewrite)
// and runs in increasing order on every open, so reopening at the same
// version changes nothing.

type decodeFunc func([]byte) (Record, error)

type keyFunc func(Record) (string, bool)

// index maps an extracted key to the set of record ids carrying it.
type index struct {
	keyOf keyFunc
	byKey map[string]map[string]struct{}
}

type collection struct {
	records map[string]Record
	decode  decodeFunc
	indexes map[string]*index
}

// MemStore implements Store. A single mutex makes each per-collection
// operation atomic; operations spanning collections are the caller's
// problem, by contract.
type MemStore struct {
	mu           sync.RWMutex
	version      int
	collections  map[string]*collection
	snapshotPath string
}

type migration struct {
	version int
	apply   func(s *MemStore)
}

func ownerKey(rec Record) (string, bool) {
	o, ok := rec.(Owned)
	if !ok {
		return "", false
	}
	return o.OwnerID(), true
}

func createdKey(rec Record) (string, bool) {
	st, ok := rec.(Stamped)
	if !ok {
		return "", false
	}
	return DayKey(st.StampedAt()), true
}

func decodeInto[T Record](b []byte) (Record, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

var migrations = []migration{
	{version: 1, apply: func(s *MemStore) {
		s.createCollection(CollectionCarnets, decodeInto[model.Carnet])
		s.createCollection(CollectionPhotos, decodeInto[model.Photo])
		s.createCollection(CollectionSettings, decodeInto[model.Preferences])
		s.createIndex(CollectionCarnets, IndexByStudent, ownerKey)
		s.createIndex(CollectionPhotos, IndexByStudent, ownerKey)
		s.createIndex(CollectionPhotos, IndexByCreated, createdKey)
	}},
	{version: 2, apply: func(s *MemStore) {
		s.createCollection(CollectionStudents, decodeInto[model.Student])
	}},
	{version: 3, apply: func(s *MemStore) {
		s.createCollection(CollectionTempPhotos, decodeInto[model.TempPhoto])
		s.createIndex(CollectionTempPhotos, IndexByStudent, ownerKey)
		s.createIndex(CollectionTempPhotos, IndexByCreated, createdKey)
	}},
}

// Open builds a MemStore, runs every pending migration step in order and,
// when a snapshot path is configured, restores the persisted records.
func Open(ctx context.Context, opts ...Option) (*MemStore, error) {
	s := &MemStore{
		collections: make(map[string]*collection),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	for _, m := range migrations {
		m.apply(s)
		s.version = m.version
	}

	if s.snapshotPath != "" {
		if err := s.loadSnapshot(); err != nil {
			return nil, err
		}
	}

	metrics.UpdateStoreSchemaVersion(s.version)
	s.publishRecordCounts()
	return s, nil
}

// createCollection registers a collection if it does not exist yet.
func (s *MemStore) createCollection(name string, decode decodeFunc) {
	if _, exists := s.collections[name]; exists {
		return
	}
	s.collections[name] = &collection{
		records: make(map[string]Record),
		decode:  decode,
		indexes: make(map[string]*index),
	}
}

// createIndex registers an index on a collection if it does not exist yet.
func (s *MemStore) createIndex(collectionName, indexName string, keyOf keyFunc) {
	c, ok := s.collections[collectionName]
	if !ok {
		return
	}
	if _, exists := c.indexes[indexName]; exists {
		return
	}
	idx := &index{keyOf: keyOf, byKey: make(map[string]map[string]struct{})}
	c.indexes[indexName] = idx
	// Backfill from whatever the collection already holds.
	for id, rec := range c.records {
		idx.add(id, rec)
	}
}

func (i *index) add(id string, rec Record) {
	key, ok := i.keyOf(rec)
	if !ok {
		return
	}
	set, exists := i.byKey[key]
	if !exists {
		set = make(map[string]struct{})
		i.byKey[key] = set
	}
	set[id] = struct{}{}
}

func (i *index) remove(id string, rec Record) {
	key, ok := i.keyOf(rec)
	if !ok {
		return
	}
	if set, exists := i.byKey[key]; exists {
		delete(set, id)
		if len(set) == 0 {
			delete(i.byKey, key)
		}
	}
}

// Get implements Store.Get.
func (s *MemStore) Get(ctx context.Context, collectionName, id string) (Record, error) {
	defer s.observe(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionName]
	if !ok {
		metrics.RecordStoreError("unknown_collection")
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionName)
	}
	rec, ok := c.records[id]
	if !ok {
		metrics.RecordStoreError("not_found")
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collectionName, id)
	}
	return rec, nil
}

// GetAll implements Store.GetAll. Records come back sorted by id so
// results are deterministic.
func (s *MemStore) GetAll(ctx context.Context, collectionName string) ([]Record, error) {
	defer s.observe(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionName]
	if !ok {
		metrics.RecordStoreError("unknown_collection")
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionName)
	}
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sortByID(out)
	return out, nil
}

// GetAllByIndex implements Store.GetAllByIndex.
func (s *MemStore) GetAllByIndex(ctx context.Context, collectionName, indexName, key string) ([]Record, error) {
	defer s.observe(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionName]
	if !ok {
		metrics.RecordStoreError("unknown_collection")
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collectionName)
	}
	idx, ok := c.indexes[indexName]
	if !ok {
		metrics.RecordStoreError("unknown_index")
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownIndex, indexName, collectionName)
	}
	out := make([]Record, 0, len(idx.byKey[key]))
	for id := range idx.byKey[key] {
		out = append(out, c.records[id])
	}
	sortByID(out)
	return out, nil
}

// Put implements Store.Put.
func (s *MemStore) Put(ctx context.Context, collectionName string, rec Record) error {
	defer s.observe(time.Now())

	if rec == nil {
		return ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionName]
	if !ok {
		metrics.RecordStoreError("unknown_collection")
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collectionName)
	}
	id := rec.RecordID()
	if old, exists := c.records[id]; exists {
		for _, idx := range c.indexes {
			idx.remove(id, old)
		}
	}
	c.records[id] = rec
	for _, idx := range c.indexes {
		idx.add(id, rec)
	}
	metrics.UpdateStoreRecords(collectionName, len(c.records))
	return nil
}

// Delete implements Store.Delete.
func (s *MemStore) Delete(ctx context.Context, collectionName, id string) error {
	defer s.observe(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collectionName]
	if !ok {
		metrics.RecordStoreError("unknown_collection")
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collectionName)
	}
	rec, exists := c.records[id]
	if !exists {
		metrics.RecordStoreError("not_found")
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collectionName, id)
	}
	for _, idx := range c.indexes {
		idx.remove(id, rec)
	}
	delete(c.records, id)
	metrics.UpdateStoreRecords(collectionName, len(c.records))
	return nil
}

// ClearAll implements Store.ClearAll. The schema survives; the data does not.
func (s *MemStore) ClearAll(ctx context.Context) error {
	defer s.observe(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, c := range s.collections {
		c.records = make(map[string]Record)
		for _, idx := range c.indexes {
			idx.byKey = make(map[string]map[string]struct{})
		}
		metrics.UpdateStoreRecords(name, 0)
	}
	return nil
}

// Count implements Store.Count.
func (s *MemStore) Count(ctx context.Context, collectionName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionName]
	if !ok {
		return 0
	}
	return len(c.records)
}

// Version implements Store.Version.
func (s *MemStore) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// snapshotFile is the persisted envelope. The explicit version field lets
// older files open under a newer schema.
type snapshotFile struct {
	Version     int                                   `json:"version"`
	Collections map[string]map[string]json.RawMessage `json:"collections"`
}

// Save writes the full store contents to the configured snapshot path.
// No-op when no path is configured.
func (s *MemStore) Save(ctx context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}

	s.mu.RLock()
	out := snapshotFile{
		Version:     s.version,
		Collections: make(map[string]map[string]json.RawMessage, len(s.collections)),
	}
	for name, c := range s.collections {
		raw := make(map[string]json.RawMessage, len(c.records))
		for id, rec := range c.records {
			b, err := json.Marshal(rec)
			if err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("encode %s/%s: %w", name, id, err)
			}
			raw[id] = b
		}
		out.Collections[name] = raw
	}
	s.mu.RUnlock()

	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshotPath)
}

// Close persists the snapshot if configured.
func (s *MemStore) Close() error {
	return s.Save(context.Background())
}

// loadSnapshot restores records from the snapshot file, if any.
func (s *MemStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	var in snapshotFile
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	if in.Version > s.version {
		return fmt.Errorf("%w: snapshot version %d newer than schema %d",
			ErrSnapshot, in.Version, s.version)
	}
	for name, raw := range in.Collections {
		c, ok := s.collections[name]
		if !ok {
			// A collection this schema no longer knows; tolerated on read.
			continue
		}
		for id, body := range raw {
			rec, err := c.decode(body)
			if err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrSnapshot, name, id, err)
			}
			c.records[id] = rec
			for _, idx := range c.indexes {
				idx.add(id, rec)
			}
		}
	}
	return nil
}

func (s *MemStore) publishRecordCounts() {
	for name, c := range s.collections {
		metrics.UpdateStoreRecords(name, len(c.records))
	}
}

func (s *MemStore) observe(start time.Time) {
	metrics.RecordStoreOpLatency(float64(time.Since(start).Microseconds()) / 1000)
}

func sortByID(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].RecordID() < recs[j].RecordID()
	})
}
