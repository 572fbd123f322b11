package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sbellone/carnet/internal/adapters/bus"
	"github.com/sbellone/carnet/internal/adapters/store"
	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/pkg/logger"
	"github.com/sbellone/carnet/pkg/metrics"
)

// Promote moves a staged photo into a skill entry. The ordering is fixed:
// the durable photo and the carnet reference are written before the staged
// copy is deleted, so a crash in between leaves a recoverable duplicate
// rather than a lost image. The sweeper reports such leftovers; they are
// never removed automatically.
//
// The caption is the override when given, otherwise the staged description;
// an empty result stays empty. Promoting an already-promoted (or otherwise
// missing) staged photo fails with ErrTempPhotoNotFound.
func (s *Service) Promote(ctx context.Context, tempPhotoID, studentID, skillID, captionOverride string) (model.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Get(ctx, store.CollectionTempPhotos, tempPhotoID)
	if err != nil {
		metrics.RecordPromotionError()
		if errors.Is(err, store.ErrNotFound) {
			return model.Photo{}, fmt.Errorf("%w: %s", ErrTempPhotoNotFound, tempPhotoID)
		}
		return model.Photo{}, fmt.Errorf("failed to load staged photo %s: %w", tempPhotoID, err)
	}
	temp, ok := rec.(model.TempPhoto)
	if !ok {
		metrics.RecordPromotionError()
		return model.Photo{}, fmt.Errorf("failed to load staged photo %s: unexpected record type", tempPhotoID)
	}

	caption := captionOverride
	if caption == "" {
		caption = temp.Description
	}

	photo := model.Photo{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Payload:   temp.Payload,
		Caption:   caption,
		CreatedAt: temp.CapturedAt, // keep the capture timestamp, not the promotion one
	}
	if err := s.store.Put(ctx, store.CollectionPhotos, photo); err != nil {
		metrics.RecordPromotionError()
		return model.Photo{}, fmt.Errorf("failed to store photo: %w", err)
	}

	c, err := s.ensureCarnet(ctx, studentID)
	if err != nil {
		metrics.RecordPromotionError()
		return model.Photo{}, err
	}
	entry := c.Skills[skillID]
	entry.Photos = append(entry.Photos, model.PhotoRef{
		ID:        photo.ID,
		Caption:   caption,
		CreatedAt: photo.CreatedAt,
	})
	c.Skills[skillID] = entry
	c.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		metrics.RecordPromotionError()
		return model.Photo{}, fmt.Errorf("failed to store carnet: %w", err)
	}

	// The durable copy is in place; only now may the staged one go. A
	// concurrent promotion of the same staged photo loses here.
	if err := s.store.Delete(ctx, store.CollectionTempPhotos, tempPhotoID); err != nil {
		metrics.RecordPromotionError()
		if errors.Is(err, store.ErrNotFound) {
			return model.Photo{}, fmt.Errorf("%w: %s", ErrTempPhotoNotFound, tempPhotoID)
		}
		return model.Photo{}, fmt.Errorf("failed to delete staged photo %s: %w", tempPhotoID, err)
	}

	s.publish(ctx, bus.TopicCarnetUpdated, studentID, "")
	metrics.RecordPromotion()
	metrics.UpdateTempPhotosStaged(s.store.Count(ctx, store.CollectionTempPhotos))
	s.logger.Info(ctx, "staged photo promoted",
		logger.String("temp_photo_id", tempPhotoID),
		logger.String("photo_id", photo.ID),
		logger.String("student_id", studentID),
		logger.String("skill_id", skillID),
	)
	return photo, nil
}
