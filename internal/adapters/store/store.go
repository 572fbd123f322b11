// Package store defines the versioned local record store and its errors.
package store

import (
	"context"
	"time"
)

// Collection names, introduced across schema versions.
const (
	CollectionCarnets    = "carnets"
	CollectionPhotos     = "photos"
	CollectionSettings   = "settings"
	CollectionStudents   = "students"
	CollectionTempPhotos = "temp_photos"
)

// Secondary index names.
const (
	IndexByStudent = "by-student"
	IndexByCreated = "by-created"
)

// Record is anything the store can hold. Implementations live in the
// domain model package.
type Record interface {
	RecordID() string
}

// Owned is implemented by records that belong to a student and are
// reachable through the by-student index.
type Owned interface {
	OwnerID() string
}

// Stamped is implemented by records indexed by creation time. The
// by-created index buckets keys by UTC day.
type Stamped interface {
	StampedAt() time.Time
}

// Store provides per-collection CRUD plus secondary-index lookup.
// Reads and writes within one collection are atomic; nothing spanning two
// collections is, and callers must tolerate partial completion.
type Store interface {
	// Get returns the record with the given id.
	// Returns ErrNotFound if the record is unknown.
	Get(ctx context.Context, collection, id string) (Record, error)

	// GetAll returns every record in the collection, in unspecified order.
	GetAll(ctx context.Context, collection string) ([]Record, error)

	// GetAllByIndex returns the records whose index key equals key.
	GetAllByIndex(ctx context.Context, collection, index, key string) ([]Record, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, collection string, rec Record) error

	// Delete removes the record with the given id.
	// Returns ErrNotFound if the record is unknown.
	Delete(ctx context.Context, collection, id string) error

	// ClearAll wipes every collection. Irreversible by design.
	ClearAll(ctx context.Context) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context, collection string) int

	// Version returns the current schema version.
	Version() int
}

// DayKey formats a timestamp as the by-created index key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
