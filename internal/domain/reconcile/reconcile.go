// Package reconcile tracks photo payload fingerprints so interrupted
// promotions can be detected. A promotion that crashed between the add and
// the delete leaves the same image both in a skill entry and in staging;
// matching fingerprints finds those duplicates without ever guessing.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Fingerprint derives a stable identity for a photo from its payload bytes
// and capture timestamp. Promotion copies both verbatim, so the fingerprint
// survives the staged-to-durable move.
func Fingerprint(payload []byte, capturedAt time.Time) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s@%d", hex.EncodeToString(sum[:]), capturedAt.UnixMilli())
}

// Tracker records fingerprints of durable photos for duplicate lookups.
type Tracker interface {
	// Record adds a fingerprint. Returns true if it was already present.
	Record(ctx context.Context, fp string) bool

	// Seen reports whether a fingerprint has been recorded.
	Seen(ctx context.Context, fp string) bool

	// Forget removes a fingerprint, e.g. after its photo was deleted.
	Forget(ctx context.Context, fp string)

	Size() int64
}

// inMemoryTracker implements Tracker with a map plus FIFO eviction order.
// maxSize <= 0 means unbounded.
type inMemoryTracker struct {
	mu      sync.RWMutex
	seen    map[string]struct{}
	order   []string
	maxSize int
	size    atomic.Int64
}

// NewInMemoryTracker creates a tracker with configuration options.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		maxSize: 10000, // default max size
	}

	// Apply all options
	for _, opt := range opts {
		opt(t)
	}

	t.seen = make(map[string]struct{})
	return t
}

func (t *inMemoryTracker) Record(ctx context.Context, fp string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.seen[fp]; exists {
		return true
	}

	if t.maxSize > 0 && len(t.seen) >= t.maxSize {
		t.evictOldest()
	}

	t.seen[fp] = struct{}{}
	t.order = append(t.order, fp)
	t.size.Add(1)
	return false
}

func (t *inMemoryTracker) Seen(ctx context.Context, fp string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[fp]
	return ok
}

func (t *inMemoryTracker) Forget(ctx context.Context, fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.seen[fp]; !exists {
		return
	}
	delete(t.seen, fp)
	for i, known := range t.order {
		if known == fp {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.size.Add(-1)
}

// evictOldest drops the earliest recorded fingerprint still present.
// Must be called with t.mu held.
func (t *inMemoryTracker) evictOldest() {
	for len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		if _, ok := t.seen[oldest]; ok {
			delete(t.seen, oldest)
			t.size.Add(-1)
			return
		}
	}
}

func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
