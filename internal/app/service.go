// Package service provides the core carnet service: student and carnet
// management, staged-photo promotion, progress aggregation and the
// export/import engine, wired over the local store, the notification bus
// and external blob storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sbellone/carnet/internal/adapters/blob"
	"github.com/sbellone/carnet/internal/adapters/bus"
	"github.com/sbellone/carnet/internal/adapters/store"
	"github.com/sbellone/carnet/internal/adapters/sweeper"
	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/internal/domain/progress"
	"github.com/sbellone/carnet/internal/domain/taxonomy"
	"github.com/sbellone/carnet/pkg/logger"
	"github.com/sbellone/carnet/pkg/metrics"
)

// prefSchoolYear is the settings key holding the selected school year.
const prefSchoolYear = "school_year"

// ProgressReport bundles every aggregation view over one carnet.
type ProgressReport struct {
	Domains map[string]progress.Stats       `json:"domains"`
	Periods map[model.Period]progress.Stats `json:"periods"`
	Overall progress.Stats                  `json:"overall"`
}

// Service implements the carnet application operations.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    store.Store
	bus      *bus.Bus
	blobs    blob.Storage
	tax      *taxonomy.Taxonomy
	sweeper  *sweeper.Sweeper
	validate *validator.Validate

	// Configuration
	snapshotPath    string
	sweepInterval   time.Duration
	tempPhotoMaxAge time.Duration

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets a pre-opened store instead of the default one.
func WithStore(st store.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithBus sets the notification bus shared with other components.
func WithBus(b *bus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithBlobStorage sets the external blob backend for profile photos and
// export backups.
func WithBlobStorage(b blob.Storage) Option {
	return func(s *Service) {
		if b != nil {
			s.blobs = b
		}
	}
}

// WithTaxonomy sets a custom skill catalog.
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(s *Service) {
		if t != nil {
			s.tax = t
		}
	}
}

// WithSnapshotPath enables store persistence at the given path.
func WithSnapshotPath(path string) Option {
	return func(s *Service) {
		s.snapshotPath = path
	}
}

// WithSweepInterval sets the staged-photo sweep cadence. Zero disables the
// background sweeper entirely.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = d
	}
}

// WithTempPhotoMaxAge sets how long staged photos live before expiry.
func WithTempPhotoMaxAge(d time.Duration) Option {
	return func(s *Service) {
		s.tempPhotoMaxAge = d
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sweepInterval:   15 * time.Minute, // default sweep cadence
		tempPhotoMaxAge: 72 * time.Hour,   // default staged-photo lifetime
		validate:        validator.New(),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting carnet service...")

	if s.store == nil {
		st, err := store.Open(ctx, store.WithSnapshotPath(s.snapshotPath))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}
	if s.tax == nil {
		tax, err := taxonomy.Load()
		if err != nil {
			return fmt.Errorf("failed to load taxonomy: %w", err)
		}
		s.tax = tax
	}
	if s.bus == nil {
		s.bus = bus.New(bus.WithLogger(s.logger.Named("bus")))
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}

	if s.sweepInterval > 0 {
		s.sweeper = sweeper.New(s.store,
			sweeper.WithInterval(s.sweepInterval),
			sweeper.WithMaxAge(s.tempPhotoMaxAge),
			sweeper.WithLogger(s.logger.Named("sweeper")),
		)
		s.sweeper.Start(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "carnet service started",
		logger.Int("schema_version", s.store.Version()),
		logger.Int("skills", s.tax.SkillCount()),
		logger.Int("students", s.store.Count(ctx, store.CollectionStudents)),
	)
	metrics.UpdateStudentsTotal(s.store.Count(ctx, store.CollectionStudents))

	return nil
}

// Stop gracefully shuts down the service, persisting the store snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping carnet service...")

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error(context.Background(), "failed to close store", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(context.Background(), "carnet service stopped")
}

// Events returns the notification bus so callers can subscribe.
func (s *Service) Events() *bus.Bus {
	return s.bus
}

// CreateStudent inserts a new student, assigning an id when absent.
func (s *Service) CreateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	if err := s.store.Put(ctx, store.CollectionStudents, st); err != nil {
		return model.Student{}, fmt.Errorf("failed to store student: %w", err)
	}

	metrics.UpdateStudentsTotal(s.store.Count(ctx, store.CollectionStudents))
	s.publish(ctx, bus.TopicStudentUpdated, st.ID, "")
	s.logger.Info(ctx, "student created", logger.String("student_id", st.ID))
	return st, nil
}

// Student returns the student with the given id.
func (s *Service) Student(ctx context.Context, id string) (model.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStudent(ctx, id)
}

// Students returns every student, ordered by id.
func (s *Service) Students(ctx context.Context) ([]model.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.store.GetAll(ctx, store.CollectionStudents)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	out := make([]model.Student, 0, len(recs))
	for _, rec := range recs {
		if st, ok := rec.(model.Student); ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// UpdateStudent replaces an existing student record.
func (s *Service) UpdateStudent(ctx context.Context, st model.Student) (model.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getStudent(ctx, st.ID)
	if err != nil {
		return model.Student{}, err
	}
	st.CreatedAt = current.CreatedAt
	st.UpdatedAt = time.Now()

	if err := s.store.Put(ctx, store.CollectionStudents, st); err != nil {
		return model.Student{}, fmt.Errorf("failed to store student: %w", err)
	}
	s.publish(ctx, bus.TopicStudentUpdated, st.ID, "")
	return st, nil
}

// DeleteStudent removes a student and everything hanging off it: durable
// photos first, then staged photos, the carnet, and finally the student
// itself, so an interruption never leaves an orphan pointing at a missing
// parent.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getStudent(ctx, id)
	if err != nil {
		return err
	}

	for _, coll := range []string{store.CollectionPhotos, store.CollectionTempPhotos, store.CollectionCarnets} {
		recs, err := s.store.GetAllByIndex(ctx, coll, store.IndexByStudent, id)
		if err != nil {
			return fmt.Errorf("failed to list %s for student %s: %w", coll, id, err)
		}
		for _, rec := range recs {
			if err := s.store.Delete(ctx, coll, rec.RecordID()); err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to delete %s/%s: %w", coll, rec.RecordID(), err)
			}
		}
	}

	if err := s.store.Delete(ctx, store.CollectionStudents, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStudentNotFound, id)
		}
		return fmt.Errorf("failed to delete student %s: %w", id, err)
	}

	if st.PhotoURL != "" {
		if err := s.blobs.Delete(ctx, blob.PhotoKey(st.AccountID, st.ID)); err != nil {
			s.logger.Warn(ctx, "failed to delete profile photo blob",
				logger.String("student_id", st.ID), logger.Error(err))
		}
	}

	metrics.UpdateStudentsTotal(s.store.Count(ctx, store.CollectionStudents))
	s.publish(ctx, bus.TopicStudentUpdated, id, "")
	s.logger.Info(ctx, "student deleted", logger.String("student_id", id))
	return nil
}

// Carnet returns the student's carnet, creating an empty one on first
// access so every existing student always has exactly one.
func (s *Service) Carnet(ctx context.Context, studentID string) (model.Carnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCarnet(ctx, studentID)
}

// SaveMeta replaces the carnet header block.
func (s *Service) SaveMeta(ctx context.Context, studentID string, meta model.Meta) (model.Carnet, error) {
	if meta.Periode != "" && !meta.Periode.Valid() {
		return model.Carnet{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, meta.Periode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCarnet(ctx, studentID)
	if err != nil {
		return model.Carnet{}, err
	}
	c.Meta = meta
	c.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		return model.Carnet{}, fmt.Errorf("failed to store carnet: %w", err)
	}
	s.publish(ctx, bus.TopicCarnetUpdated, studentID, "")
	return c, nil
}

// SaveSynthese replaces the carnet free-text summary block.
func (s *Service) SaveSynthese(ctx context.Context, studentID string, syn model.Synthese) (model.Carnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCarnet(ctx, studentID)
	if err != nil {
		return model.Carnet{}, err
	}
	c.Synthese = syn
	c.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		return model.Carnet{}, fmt.Errorf("failed to store carnet: %w", err)
	}
	s.publish(ctx, bus.TopicCarnetUpdated, studentID, "")
	return c, nil
}

// UpdateSkill records an evaluation for one skill. Photos attached to the
// existing entry are preserved unless the caller provides a replacement
// slice. Evaluated entries must reference a skill the taxonomy knows;
// stale ids already stored remain readable but cannot be re-evaluated.
func (s *Service) UpdateSkill(ctx context.Context, studentID, skillID string, entry model.SkillEntry) (model.Carnet, error) {
	if !entry.Status.Valid() {
		return model.Carnet{}, fmt.Errorf("%w: %q", ErrInvalidStatus, entry.Status)
	}
	if entry.Periode != "" && !entry.Periode.Valid() {
		return model.Carnet{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, entry.Periode)
	}
	if entry.Status.Set() && !s.tax.HasSkill(skillID) {
		return model.Carnet{}, fmt.Errorf("%w: %s", ErrUnknownSkill, skillID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ensureCarnet(ctx, studentID)
	if err != nil {
		return model.Carnet{}, err
	}

	if existing, ok := c.Skills[skillID]; ok && entry.Photos == nil {
		entry.Photos = existing.Photos
	}
	if entry.Status.Set() && entry.EvaluatedAt == nil {
		now := time.Now()
		entry.EvaluatedAt = &now
	}
	c.Skills[skillID] = entry
	s.refreshProgress(&c)
	c.UpdatedAt = time.Now()

	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		return model.Carnet{}, fmt.Errorf("failed to store carnet: %w", err)
	}

	s.publish(ctx, bus.TopicSkillUpdated, studentID, skillID)
	s.publish(ctx, bus.TopicCarnetUpdated, studentID, "")
	return c, nil
}

// Progress aggregates the student's carnet into per-domain, per-period and
// overall statistics. A student without a carnet yet gets zero stats.
func (s *Service) Progress(ctx context.Context, studentID string) (ProgressReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getStudent(ctx, studentID); err != nil {
		return ProgressReport{}, err
	}

	skills := map[string]model.SkillEntry{}
	if c, err := s.findCarnet(ctx, studentID); err == nil {
		skills = c.Skills
	} else if !errors.Is(err, ErrCarnetNotFound) {
		return ProgressReport{}, err
	}

	report := ProgressReport{
		Domains: make(map[string]progress.Stats),
		Periods: make(map[model.Period]progress.Stats),
		Overall: progress.Overall(skills),
	}
	for _, d := range s.tax.Domains() {
		report.Domains[d.ID] = progress.Domain(s.tax, d.ID, skills)
	}
	for _, p := range model.Periods {
		report.Periods[p] = progress.ForPeriod(skills, p)
	}
	return report, nil
}

// StageTempPhoto stores a captured photo in the staging area, outside any
// carnet, until it is promoted or expires.
func (s *Service) StageTempPhoto(ctx context.Context, studentID string, payload []byte, description string) (model.TempPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getStudent(ctx, studentID); err != nil {
		return model.TempPhoto{}, err
	}

	t := model.TempPhoto{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Payload:     payload,
		Description: description,
		CapturedAt:  time.Now(),
	}
	if err := s.store.Put(ctx, store.CollectionTempPhotos, t); err != nil {
		return model.TempPhoto{}, fmt.Errorf("failed to stage photo: %w", err)
	}
	metrics.UpdateTempPhotosStaged(s.store.Count(ctx, store.CollectionTempPhotos))
	return t, nil
}

// TempPhotos lists the student's staged photos.
func (s *Service) TempPhotos(ctx context.Context, studentID string) ([]model.TempPhoto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.store.GetAllByIndex(ctx, store.CollectionTempPhotos, store.IndexByStudent, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged photos: %w", err)
	}
	out := make([]model.TempPhoto, 0, len(recs))
	for _, rec := range recs {
		if t, ok := rec.(model.TempPhoto); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// DeleteTempPhoto discards a staged photo without promoting it.
func (s *Service) DeleteTempPhoto(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, store.CollectionTempPhotos, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTempPhotoNotFound, id)
		}
		return fmt.Errorf("failed to delete staged photo %s: %w", id, err)
	}
	metrics.UpdateTempPhotosStaged(s.store.Count(ctx, store.CollectionTempPhotos))
	return nil
}

// UploadProfilePhoto stores the student's profile picture in blob storage
// and records its URL on the student.
func (s *Service) UploadProfilePhoto(ctx context.Context, studentID string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getStudent(ctx, studentID)
	if err != nil {
		return "", err
	}

	url, err := s.blobs.Upload(ctx, blob.PhotoKey(st.AccountID, st.ID), payload)
	if err != nil {
		return "", fmt.Errorf("failed to upload profile photo: %w", err)
	}
	st.PhotoURL = url
	st.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionStudents, st); err != nil {
		return "", fmt.Errorf("failed to store student: %w", err)
	}
	s.publish(ctx, bus.TopicStudentUpdated, st.ID, "")
	return url, nil
}

// SavePreferences replaces the per-account settings record.
func (s *Service) SavePreferences(ctx context.Context, p model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		return fmt.Errorf("preferences need an account id")
	}
	p.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionSettings, p); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

// Preferences returns the account settings, empty when never saved.
func (s *Service) Preferences(ctx context.Context, accountID string) (model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPreferences(ctx, accountID)
}

// SetSchoolYear records the account's selected school year.
func (s *Service) SetSchoolYear(ctx context.Context, accountID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getPreferences(ctx, accountID)
	if err != nil {
		return err
	}
	if p.Values == nil {
		p.Values = make(map[string]string)
	}
	p.Values[prefSchoolYear] = label
	p.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, store.CollectionSettings, p); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

// CurrentSchoolYear returns the selected school year, falling back to the
// one the current date falls into (a school year starts in August).
func (s *Service) CurrentSchoolYear(ctx context.Context, accountID string) (model.SchoolYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.getPreferences(ctx, accountID)
	if err != nil {
		return model.SchoolYear{}, err
	}
	label := p.Values[prefSchoolYear]
	if label == "" {
		label = defaultSchoolYearLabel(time.Now())
	}
	return model.SchoolYear{ID: label, Label: label, Current: true}, nil
}

// ClearAll wipes every record. Irreversible; intended for the explicit
// "reset my data" action only.
func (s *Service) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	metrics.UpdateStudentsTotal(0)
	metrics.UpdateTempPhotosStaged(0)
	s.logger.Info(ctx, "all local data cleared")
	return nil
}

func (s *Service) getStudent(ctx context.Context, id string) (model.Student, error) {
	rec, err := s.store.Get(ctx, store.CollectionStudents, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
		}
		return model.Student{}, fmt.Errorf("failed to load student %s: %w", id, err)
	}
	st, ok := rec.(model.Student)
	if !ok {
		return model.Student{}, fmt.Errorf("failed to load student %s: unexpected record type", id)
	}
	return st, nil
}

// findCarnet returns the student's carnet without creating one.
func (s *Service) findCarnet(ctx context.Context, studentID string) (model.Carnet, error) {
	recs, err := s.store.GetAllByIndex(ctx, store.CollectionCarnets, store.IndexByStudent, studentID)
	if err != nil {
		return model.Carnet{}, fmt.Errorf("failed to look up carnet: %w", err)
	}
	if len(recs) == 0 {
		return model.Carnet{}, fmt.Errorf("%w: student %s", ErrCarnetNotFound, studentID)
	}
	c, ok := recs[0].(model.Carnet)
	if !ok {
		return model.Carnet{}, fmt.Errorf("failed to load carnet: unexpected record type")
	}
	if c.Skills == nil {
		c.Skills = make(map[string]model.SkillEntry)
	}
	return c, nil
}

// ensureCarnet returns the student's carnet, creating an empty one when
// the student exists but has none yet.
func (s *Service) ensureCarnet(ctx context.Context, studentID string) (model.Carnet, error) {
	if _, err := s.getStudent(ctx, studentID); err != nil {
		return model.Carnet{}, err
	}

	c, err := s.findCarnet(ctx, studentID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCarnetNotFound) {
		return model.Carnet{}, err
	}

	now := time.Now()
	c = model.Carnet{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Skills:    make(map[string]model.SkillEntry),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, store.CollectionCarnets, c); err != nil {
		return model.Carnet{}, fmt.Errorf("failed to create carnet: %w", err)
	}
	return c, nil
}

// refreshProgress recomputes the cached per-domain counters from Skills.
func (s *Service) refreshProgress(c *model.Carnet) {
	c.Progress = make(map[string]model.DomainProgress, len(s.tax.Domains()))
	for _, d := range s.tax.Domains() {
		st := progress.Domain(s.tax, d.ID, c.Skills)
		c.Progress[d.ID] = model.DomainProgress{Acquired: st.Acquired, Total: st.Total}
	}
}

func (s *Service) getPreferences(ctx context.Context, accountID string) (model.Preferences, error) {
	rec, err := s.store.Get(ctx, store.CollectionSettings, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Preferences{ID: accountID, Values: make(map[string]string)}, nil
		}
		return model.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	p, ok := rec.(model.Preferences)
	if !ok {
		return model.Preferences{}, fmt.Errorf("failed to load preferences: unexpected record type")
	}
	if p.Values == nil {
		p.Values = make(map[string]string)
	}
	return p, nil
}

func (s *Service) publish(ctx context.Context, topic bus.Topic, studentID, skillID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, bus.Event{Topic: topic, StudentID: studentID, SkillID: skillID})
}

// defaultSchoolYearLabel derives the "YYYY-YYYY" label the given date falls
// into. School years run from August to July.
func defaultSchoolYearLabel(now time.Time) string {
	year := now.Year()
	if now.Month() < time.August {
		year--
	}
	return fmt.Sprintf("%d-%d", year, year+1)
}
