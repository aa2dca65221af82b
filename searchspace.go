package hpo

import (
	"maps"
	"slices"
)

// SearchSpace maps parameter names to the distribution a sampler should
// treat as relative.
type SearchSpace map[string]Distribution

// Names returns the parameter names in sorted order. Samplers iterate in
// this order to stay deterministic under a fixed seed.
func (s SearchSpace) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// IntersectionSearchSpace computes the parameters whose distribution was
// identical in every Complete trial of a study.
//
// The calculation is incremental: it remembers how far it has read and
// only looks at newer trials on the next call, restarting at the oldest
// trial that was still running. The space therefore only ever shrinks. A
// parameter dropped because of a conflicting distribution never comes back,
// even if later trials agree again.
//
// One value serves one study. It isn't safe for concurrent use; samplers
// that embed it rely on the study serializing sampler calls.
type IntersectionSearchSpace struct {
	cursor int
	space  SearchSpace
}

// Calculate updates the intersection with trials, which must be the full
// trial list of the study in id order, and returns a copy of the result.
func (s *IntersectionSearchSpace) Calculate(trials []FrozenTrial) SearchSpace {
	next := -1

	for i := s.cursor; i < len(trials); i++ {
		t := trials[i]

		if t.State == TrialRunning {
			if next < 0 {
				next = i
			}

			continue
		}

		if t.State != TrialComplete {
			continue
		}

		if s.space == nil {
			s.space = SearchSpace(maps.Clone(t.Distributions))
			if s.space == nil {
				s.space = SearchSpace{}
			}

			continue
		}

		for name, d := range s.space {
			if other, ok := t.Distributions[name]; !ok || !other.Equal(d) {
				delete(s.space, name)
			}
		}
	}

	if next < 0 {
		next = len(trials)
	}

	s.cursor = next

	if s.space == nil {
		return SearchSpace{}
	}

	return maps.Clone(s.space)
}

// IntersectionSearchSpaceOf computes the intersection search space of
// trials from scratch.
func IntersectionSearchSpaceOf(trials []FrozenTrial) SearchSpace {
	var s IntersectionSearchSpace

	return s.Calculate(trials)
}
