// Package taxonomy holds the static domain/skill catalog carnets are
// evaluated against. The catalog is embedded and loaded once at startup;
// it never changes while the process runs.
package taxonomy

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed taxonomy.json
var rawCatalog []byte

// Skill is an atomic evaluable competency with a stable id.
type Skill struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Domain is a named, ordered grouping of skills.
type Domain struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Skills []Skill `json:"skills"`
}

// Taxonomy is the immutable catalog with lookup indexes.
type Taxonomy struct {
	domains      []Domain
	domainByID   map[string]int
	domainOfSkill map[string]string
}

type catalog struct {
	Domains []Domain `json:"domains"`
}

// Load parses the embedded catalog and builds the lookup indexes.
func Load() (*Taxonomy, error) {
	var c catalog
	if err := json.Unmarshal(rawCatalog, &c); err != nil {
		return nil, fmt.Errorf("parse embedded taxonomy: %w", err)
	}
	if len(c.Domains) == 0 {
		return nil, ErrEmptyCatalog
	}

	t := &Taxonomy{
		domains:       c.Domains,
		domainByID:    make(map[string]int, len(c.Domains)),
		domainOfSkill: make(map[string]string),
	}
	for i, d := range c.Domains {
		if _, dup := t.domainByID[d.ID]; dup {
			return nil, fmt.Errorf("%w: domain %q", ErrDuplicateID, d.ID)
		}
		t.domainByID[d.ID] = i
		for _, s := range d.Skills {
			if _, dup := t.domainOfSkill[s.ID]; dup {
				return nil, fmt.Errorf("%w: skill %q", ErrDuplicateID, s.ID)
			}
			t.domainOfSkill[s.ID] = d.ID
		}
	}
	return t, nil
}

// Domains returns the ordered list of domains.
func (t *Taxonomy) Domains() []Domain {
	return t.domains
}

// Domain returns the domain with the given id.
func (t *Taxonomy) Domain(id string) (Domain, bool) {
	i, ok := t.domainByID[id]
	if !ok {
		return Domain{}, false
	}
	return t.domains[i], true
}

// DomainOfSkill returns the id of the domain a skill belongs to.
func (t *Taxonomy) DomainOfSkill(skillID string) (string, bool) {
	id, ok := t.domainOfSkill[skillID]
	return id, ok
}

// HasSkill reports whether the skill id exists in the catalog.
func (t *Taxonomy) HasSkill(skillID string) bool {
	_, ok := t.domainOfSkill[skillID]
	return ok
}

// SkillCount returns the total number of skills across all domains.
func (t *Taxonomy) SkillCount() int {
	return len(t.domainOfSkill)
}
