// Package sweeper runs the background housekeeping loop over staged photos.
// It expires staged photos that were never promoted and flags payloads that
// exist both in a skill entry and in staging, which is the footprint of a
// promotion interrupted between the add and the delete. Flagged duplicates
// are reported, never deleted; cleanup is a user decision.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sbellone/carnet/internal/adapters/store"
	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/internal/domain/reconcile"
	"github.com/sbellone/carnet/pkg/logger"
	"github.com/sbellone/carnet/pkg/metrics"
)

// Result summarizes one sweep pass.
type Result struct {
	Expired    int
	Duplicates int
}

// Sweeper periodically expires stale staged photos and reports promotion
// leftovers.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
	logger   logger.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a sweeper over the given store.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    st,
		interval: 15 * time.Minute, // default sweep interval
		maxAge:   72 * time.Hour,   // default staged-photo lifetime
		stopChan: make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.logger == nil {
		s.logger = logger.Get().Named("sweeper")
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info(ctx, "sweeper started",
		logger.Duration("interval", s.interval),
		logger.Duration("max_age", s.maxAge))
}

// Stop terminates the sweep loop and waits for the in-flight pass.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error(ctx, "sweep failed", logger.Error(err))
				continue
			}
			if res.Expired > 0 || res.Duplicates > 0 {
				s.logger.Info(ctx, "sweep completed",
					logger.Int("expired", res.Expired),
					logger.Int("duplicates", res.Duplicates))
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs a single pass: expire staged photos past maxAge, then
// fingerprint the remaining ones against the durable photos collection.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var res Result

	photos, err := s.store.GetAll(ctx, store.CollectionPhotos)
	if err != nil {
		return res, fmt.Errorf("failed to list photos: %w", err)
	}
	tracker := reconcile.NewInMemoryTracker(reconcile.WithMaxSize(0))
	for _, rec := range photos {
		p, ok := rec.(model.Photo)
		if !ok {
			continue
		}
		tracker.Record(ctx, reconcile.Fingerprint(p.Payload, p.CreatedAt))
	}

	temps, err := s.store.GetAll(ctx, store.CollectionTempPhotos)
	if err != nil {
		return res, fmt.Errorf("failed to list staged photos: %w", err)
	}

	now := time.Now()
	for _, rec := range temps {
		t, ok := rec.(model.TempPhoto)
		if !ok {
			continue
		}

		if s.maxAge > 0 && now.Sub(t.CapturedAt) > s.maxAge {
			if err := s.store.Delete(ctx, store.CollectionTempPhotos, t.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue // promoted or removed since the listing
				}
				return res, fmt.Errorf("failed to expire staged photo %s: %w", t.ID, err)
			}
			res.Expired++
			metrics.RecordTempPhotoExpired()
			continue
		}

		if tracker.Seen(ctx, reconcile.Fingerprint(t.Payload, t.CapturedAt)) {
			res.Duplicates++
			metrics.RecordDuplicatePhotoDetected()
			if s.logger != nil {
				s.logger.Warn(ctx, "staged photo duplicates a promoted one, leaving both",
					logger.String("temp_photo_id", t.ID),
					logger.String("student_id", t.StudentID))
			}
		}
	}

	metrics.RecordSweepRun()
	metrics.UpdateTempPhotosStaged(s.store.Count(ctx, store.CollectionTempPhotos))
	return res, nil
}
