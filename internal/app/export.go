package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sbellone/carnet/internal/adapters/blob"
	"github.com/sbellone/carnet/internal/adapters/bus"
	"github.com/sbellone/carnet/internal/adapters/store"
	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/pkg/logger"
	"github.com/sbellone/carnet/pkg/metrics"
)

// ExportVersion is the current export document format version.
const ExportVersion = "1"

// ExportDocument is the self-contained wire format for one carnet. Photo
// bytes are embedded base64 in the photos map (or carried as a URL when the
// bytes live elsewhere) so the document needs nothing outside itself.
type ExportDocument struct {
	Version    string            `json:"version" validate:"required"`
	Carnet     *ExportCarnet     `json:"carnet" validate:"required"`
	Photos     map[string]string `json:"photos"`
	ExportedAt int64             `json:"exportedAt"` // epoch millis
}

// ExportCarnet is the carnet block of an export document.
type ExportCarnet struct {
	StudentID string                      `json:"student_id,omitempty"`
	Meta      model.Meta                  `json:"meta"`
	Skills    map[string]model.SkillEntry `json:"skills"`
	Synthese  model.Synthese              `json:"synthese"`
}

// ExportStudent builds the export document for one student's carnet.
// Every photo referenced by a skill entry is embedded; a dangling
// reference aborts the export.
func (s *Service) ExportStudent(ctx context.Context, studentID string) (ExportDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportStudent(ctx, studentID)
}

func (s *Service) exportStudent(ctx context.Context, studentID string) (ExportDocument, error) {
	if _, err := s.getStudent(ctx, studentID); err != nil {
		return ExportDocument{}, err
	}

	skills := map[string]model.SkillEntry{}
	var meta model.Meta
	var syn model.Synthese
	if c, err := s.findCarnet(ctx, studentID); err == nil {
		c = c.Clone()
		skills, meta, syn = c.Skills, c.Meta, c.Synthese
	} else if !errors.Is(err, ErrCarnetNotFound) {
		return ExportDocument{}, err
	}

	photos := make(map[string]string)
	for skillID, entry := range skills {
		for _, ref := range entry.Photos {
			rec, err := s.store.Get(ctx, store.CollectionPhotos, ref.ID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ExportDocument{}, fmt.Errorf("%w: %s (skill %s)", ErrPhotoNotFound, ref.ID, skillID)
				}
				return ExportDocument{}, fmt.Errorf("failed to load photo %s: %w", ref.ID, err)
			}
			p, ok := rec.(model.Photo)
			if !ok {
				return ExportDocument{}, fmt.Errorf("failed to load photo %s: unexpected record type", ref.ID)
			}
			if len(p.Payload) > 0 {
				photos[ref.ID] = base64.StdEncoding.EncodeToString(p.Payload)
			} else {
				photos[ref.ID] = p.Ref
			}
		}
	}

	doc := ExportDocument{
		Version: ExportVersion,
		Carnet: &ExportCarnet{
			StudentID: studentID,
			Meta:      meta,
			Skills:    skills,
			Synthese:  syn,
		},
		Photos:     photos,
		ExportedAt: time.Now().UnixMilli(),
	}
	metrics.RecordExport()
	return doc, nil
}

// ImportStudent restores an export document. The document is validated in
// full before anything is written; a rejected document leaves the store
// untouched.
//
// With a targetStudentID the carnet lands under that student, overwriting
// whatever it had. Without one the document produces an independent record:
// its declared student id is used when free, otherwise a fresh student is
// created, so importing twice never silently merges.
func (s *Service) ImportStudent(ctx context.Context, doc ExportDocument, targetStudentID string) (model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importStudent(ctx, doc, targetStudentID)
}

func (s *Service) importStudent(ctx context.Context, doc ExportDocument, targetStudentID string) (model.Student, error) {
	photos, err := s.validateDocument(doc)
	if err != nil {
		metrics.RecordImportRejected()
		return model.Student{}, err
	}

	studentID := targetStudentID
	if studentID == "" {
		studentID = doc.Carnet.StudentID
		if studentID == "" || s.studentExists(ctx, studentID) {
			studentID = uuid.NewString()
		}
	}

	now := time.Now()
	st, err := s.getStudent(ctx, studentID)
	if errors.Is(err, ErrStudentNotFound) {
		st = model.Student{
			ID:        studentID,
			Nom:       doc.Carnet.Meta.Nom,
			CreatedAt: now,
		}
	} else if err != nil {
		return model.Student{}, err
	}
	st.UpdatedAt = now
	if err := s.store.Put(ctx, store.CollectionStudents, st); err != nil {
		return model.Student{}, fmt.Errorf("failed to store student: %w", err)
	}

	for id, p := range photos {
		p.ID = id
		p.StudentID = studentID
		if err := s.store.Put(ctx, store.CollectionPhotos, p); err != nil {
			return model.Student{}, fmt.Errorf("failed to store photo %s: %w", id, err)
		}
	}

	carnetID := uuid.NewString()
	if existing, err := s.findCarnet(ctx, studentID); err == nil {
		carnetID = existing.ID
	} else if !errors.Is(err, ErrCarnetNotFound) {
		return model.Student{}, err
	}

	skills := doc.Carnet.Skills
	if skills == nil {
		skills = make(map[string]model.SkillEntry)
	}
	c := model.Carnet{
		ID:        carnetID,
		StudentID: studentID,
		Meta:      doc.Carnet.Meta,
		Skills:    skills,
		Synthese:  doc.Carnet.Synthese,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.refreshProgress(&c)
	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		return model.Student{}, fmt.Errorf("failed to store carnet: %w", err)
	}

	metrics.RecordImport()
	metrics.UpdateStudentsTotal(s.store.Count(ctx, store.CollectionStudents))
	s.publish(ctx, bus.TopicStudentUpdated, studentID, "")
	s.publish(ctx, bus.TopicCarnetUpdated, studentID, "")
	s.logger.Info(ctx, "carnet imported",
		logger.String("student_id", studentID),
		logger.Int("skills", len(skills)),
		logger.Int("photos", len(photos)),
	)
	return st, nil
}

// BackupExport uploads the student's export document to blob storage and
// returns its URL.
func (s *Service) BackupExport(ctx context.Context, studentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.getStudent(ctx, studentID)
	if err != nil {
		return "", err
	}
	doc, err := s.exportStudent(ctx, studentID)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode export document: %w", err)
	}

	name := fmt.Sprintf("carnet-%s-%d.json", studentID, doc.ExportedAt)
	url, err := s.blobs.Upload(ctx, blob.BackupKey(st.AccountID, name), b)
	if err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}
	s.logger.Info(ctx, "backup uploaded",
		logger.String("student_id", studentID),
		logger.String("key", blob.BackupKey(st.AccountID, name)),
	)
	return url, nil
}

// RestoreBackup downloads a backup document from blob storage and imports
// it, following the same rules as ImportStudent.
func (s *Service) RestoreBackup(ctx context.Context, key, targetStudentID string) (model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.blobs.Download(ctx, key)
	if err != nil {
		return model.Student{}, fmt.Errorf("failed to download backup %s: %w", key, err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		metrics.RecordImportRejected()
		return model.Student{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return s.importStudent(ctx, doc, targetStudentID)
}

// validateDocument checks an export document in full and decodes its photo
// values. Nothing may be written before this returns nil.
func (s *Service) validateDocument(doc ExportDocument) (map[string]model.Photo, error) {
	if err := s.validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidDocument, strings.ToLower(verrs[0].Field()))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Version != ExportVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidDocument, doc.Version)
	}
	// An empty photos map is a photoless carnet; an absent one is malformed.
	if doc.Photos == nil {
		return nil, fmt.Errorf("%w: missing photos", ErrInvalidDocument)
	}

	for skillID, entry := range doc.Carnet.Skills {
		if !entry.Status.Valid() {
			return nil, fmt.Errorf("%w: skill %s has invalid status %q", ErrInvalidDocument, skillID, entry.Status)
		}
		if entry.Periode != "" && !entry.Periode.Valid() {
			return nil, fmt.Errorf("%w: skill %s has invalid period %q", ErrInvalidDocument, skillID, entry.Periode)
		}
		for _, ref := range entry.Photos {
			if _, ok := doc.Photos[ref.ID]; !ok {
				return nil, fmt.Errorf("%w: skill %s references missing photo %s", ErrInvalidDocument, skillID, ref.ID)
			}
		}
	}

	photos := make(map[string]model.Photo, len(doc.Photos))
	for id, val := range doc.Photos {
		p := model.Photo{CreatedAt: time.Now()}
		if strings.HasPrefix(val, "http://") || strings.HasPrefix(val, "https://") {
			p.Ref = val
		} else {
			payload, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return nil, fmt.Errorf("%w: photo %s is neither base64 nor a URL", ErrInvalidDocument, id)
			}
			p.Payload = payload
		}
		// Carry the capture timestamp from the referencing entry when known.
		for _, entry := range doc.Carnet.Skills {
			for _, ref := range entry.Photos {
				if ref.ID == id {
					p.Caption = ref.Caption
					if !ref.CreatedAt.IsZero() {
						p.CreatedAt = ref.CreatedAt
					}
				}
			}
		}
		photos[id] = p
	}
	return photos, nil
}

func (s *Service) studentExists(ctx context.Context, id string) bool {
	_, err := s.store.Get(ctx, store.CollectionStudents, id)
	return err == nil
}
