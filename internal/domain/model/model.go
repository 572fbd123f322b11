// Package model contains domain models passed between layers.
package model

import "time"

// Status is the acquisition state of a skill on a carnet.
type Status string

// Skill statuses. The empty string means the skill was never evaluated.
const (
	StatusUnset       Status = ""
	StatusNotAcquired Status = "NA"
	StatusInProgress  Status = "EC"
	StatusAcquired    Status = "A"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnset, StatusNotAcquired, StatusInProgress, StatusAcquired:
		return true
	}
	return false
}

// Set reports whether the skill has been evaluated at all.
func (s Status) Set() bool { return s != StatusUnset }

// Period identifies one evaluation window within a school year.
type Period string

// Periods is the fixed ordered set of evaluation windows.
var Periods = []Period{"1", "2", "3", "4", "5"}

// Valid reports whether p is one of the fixed periods.
func (p Period) Valid() bool {
	for _, known := range Periods {
		if p == known {
			return true
		}
	}
	return false
}

// Student is the root entity. Carnet, photos and staged photos all hang
// off a student and are removed with it.
type Student struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Nom       string    `json:"nom"`
	Prenom    string    `json:"prenom"`
	Sexe      string    `json:"sexe,omitempty"`
	Naissance string    `json:"naissance,omitempty"` // YYYY-MM-DD
	PhotoURL  string    `json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordID implements store.Record.
func (s Student) RecordID() string { return s.ID }

// Meta is the carnet header block.
type Meta struct {
	Nom        string `json:"nom"`
	Annee      string `json:"annee"`
	Enseignant string `json:"enseignant"`
	Periode    Period `json:"periode"`
	Avatar     string `json:"avatar,omitempty"`
}

// Synthese holds the free-text summary fields of a carnet.
type Synthese struct {
	PointsForts string `json:"points_forts,omitempty"`
	AxesTravail string `json:"axes_travail,omitempty"`
	Projets     string `json:"projets,omitempty"`
}

// PhotoRef is the embedded reference a skill entry keeps for each of its
// photos. The image bytes live once in the photos collection, keyed by ID.
type PhotoRef struct {
	ID        string    `json:"id"`
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SkillEntry is the evaluation of a single skill. Status transitions are
// unconstrained: any value may follow any other.
type SkillEntry struct {
	Status      Status     `json:"status"`
	Comment     string     `json:"comment,omitempty"`
	Photos      []PhotoRef `json:"photos,omitempty"`
	EvaluatedAt *time.Time `json:"evaluated_at,omitempty"`
	Periode     Period     `json:"periode,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e SkillEntry) Clone() SkillEntry {
	out := e
	if e.Photos != nil {
		out.Photos = make([]PhotoRef, len(e.Photos))
		copy(out.Photos, e.Photos)
	}
	if e.EvaluatedAt != nil {
		at := *e.EvaluatedAt
		out.EvaluatedAt = &at
	}
	return out
}

// DomainProgress is the cached per-domain acquisition count stored on a
// carnet. It is derived data and must always be recomputable from Skills.
type DomainProgress struct {
	Acquired int `json:"acquired"`
	Total    int `json:"total"`
}

// Carnet is the per-student evaluation record.
type Carnet struct {
	ID        string                    `json:"id"`
	StudentID string                    `json:"student_id"`
	Meta      Meta                      `json:"meta"`
	Skills    map[string]SkillEntry     `json:"skills"`
	Synthese  Synthese                  `json:"synthese"`
	Progress  map[string]DomainProgress `json:"progress,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// RecordID implements store.Record.
func (c Carnet) RecordID() string { return c.ID }

// OwnerID implements store.Owned for the by-student index.
func (c Carnet) OwnerID() string { return c.StudentID }

// Clone returns a deep copy of the carnet.
func (c Carnet) Clone() Carnet {
	out := c
	if c.Skills != nil {
		out.Skills = make(map[string]SkillEntry, len(c.Skills))
		for id, entry := range c.Skills {
			out.Skills[id] = entry.Clone()
		}
	}
	if c.Progress != nil {
		out.Progress = make(map[string]DomainProgress, len(c.Progress))
		for id, p := range c.Progress {
			out.Progress[id] = p
		}
	}
	return out
}

// Photo is a durable photo owned by exactly one skill entry. The bytes are
// kept here; skill entries hold a PhotoRef.
type Photo struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Payload   []byte    `json:"payload,omitempty"`
	Ref       string    `json:"ref,omitempty"` // external URL when the bytes live elsewhere
	Caption   string    `json:"caption,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordID implements store.Record.
func (p Photo) RecordID() string { return p.ID }

// OwnerID implements store.Owned for the by-student index.
func (p Photo) OwnerID() string { return p.StudentID }

// StampedAt implements store.Stamped for the by-created index.
func (p Photo) StampedAt() time.Time { return p.CreatedAt }

// TempPhoto is a staged photo waiting to be promoted into a skill entry.
// It belongs to a student but to no carnet until promotion.
type TempPhoto struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Payload     []byte    `json:"payload"`
	Description string    `json:"description,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// RecordID implements store.Record.
func (t TempPhoto) RecordID() string { return t.ID }

// OwnerID implements store.Owned for the by-student index.
func (t TempPhoto) OwnerID() string { return t.StudentID }

// StampedAt implements store.Stamped for the by-created index.
func (t TempPhoto) StampedAt() time.Time { return t.CapturedAt }

// Preferences holds per-account settings kept in the settings collection.
type Preferences struct {
	ID        string            `json:"id"` // account id
	Values    map[string]string `json:"values,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RecordID implements store.Record.
func (p Preferences) RecordID() string { return p.ID }

// SchoolYear labels a school year, e.g. "2025-2026".
type SchoolYear struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Current bool   `json:"current"`
}

// RecordID implements store.Record.
func (y SchoolYear) RecordID() string { return y.ID }
