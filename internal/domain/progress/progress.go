// Package progress computes acquisition statistics over a carnet's skill
// map. All functions are pure: no side effects, no I/O.
package progress

import (
	"math"

	"github.com/sbellone/carnet/internal/domain/model"
	"github.com/sbellone/carnet/internal/domain/taxonomy"
)

// Stats is the fixed aggregation result. Unset entries count toward Total
// but into none of the three status buckets, so
// Acquired + InProgress + NotAcquired <= Total always holds.
type Stats struct {
	Total       int `json:"total"`
	Acquired    int `json:"acquired"`
	InProgress  int `json:"in_progress"`
	NotAcquired int `json:"not_acquired"`
	Percentage  int `json:"percentage"`
}

// Domain aggregates the entries whose skill id belongs to the named domain.
// Stale ids absent from the taxonomy are excluded here (unlike Overall).
// An unknown domain id yields the zero-stats record, same as an empty one.
func Domain(tax *taxonomy.Taxonomy, domainID string, skills map[string]model.SkillEntry) Stats {
	var s Stats
	for id, entry := range skills {
		owner, ok := tax.DomainOfSkill(id)
		if !ok || owner != domainID {
			continue
		}
		s.count(entry.Status)
	}
	s.finish()
	return s
}

// Overall aggregates every entry in the map regardless of domain. Entries
// with ids no longer in the taxonomy are still counted here, unlike Domain.
func Overall(skills map[string]model.SkillEntry) Stats {
	var s Stats
	for _, entry := range skills {
		s.count(entry.Status)
	}
	s.finish()
	return s
}

// ForPeriod aggregates entries tagged with the given period, skipping
// entries that were never evaluated. Unknown periods yield zero stats.
func ForPeriod(skills map[string]model.SkillEntry, period model.Period) Stats {
	var s Stats
	for _, entry := range skills {
		if entry.Periode != period || !entry.Status.Set() {
			continue
		}
		s.count(entry.Status)
	}
	s.finish()
	return s
}

func (s *Stats) count(status model.Status) {
	s.Total++
	switch status {
	case model.StatusAcquired:
		s.Acquired++
	case model.StatusInProgress:
		s.InProgress++
	case model.StatusNotAcquired:
		s.NotAcquired++
	case model.StatusUnset:
		// counts toward Total only
	}
}

// finish computes the rounded percentage; defined as 0 when Total == 0.
func (s *Stats) finish() {
	if s.Total == 0 {
		return
	}
	// Round half up on the real-valued percentage.
	s.Percentage = int(math.Floor(float64(s.Acquired)*100/float64(s.Total) + 0.5))
}
