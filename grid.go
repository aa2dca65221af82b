package hpo

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"time"
)

// GridIDKey is the system attribute holding the index of the grid point a
// trial evaluates.
const GridIDKey = "grid_id"

// GridSampler evaluates every point of a user-provided grid once.
//
// At the start of each trial it picks an unvisited grid point at random
// (random so that parallel workers rarely collide) and records its index
// in the trial's GridIDKey system attribute. SampleIndependent then answers
// each suggestion from that point. A grid point counts as visited once a
// trial using it is Complete or Pruned; points of failed trials are
// retried. Assignments live in storage, so a reloaded study continues with
// the points it has not visited yet, provided the grid is the same.
//
// Optimize stops once every point has been visited. A trial that still
// starts after that, because parallel workers raced for the last point,
// evaluates a visited point again.
//
// Grid values are not quantized: a value must lie in the distribution the
// objective suggests, otherwise the suggestion fails.
type GridSampler struct {
	names  []string
	points [][]any
	rng    *rand.Rand
}

// Size returns the number of grid points.
func (s *GridSampler) Size() int { return len(s.points) }

// InferRelativeSearchSpace implements Sampler. The grid does not need
// relative values; the point is chosen in SampleRelative.
func (s *GridSampler) InferRelativeSearchSpace(context.Context, StudyView, FrozenTrial) (SearchSpace, error) {
	return SearchSpace{}, nil
}

// SampleRelative assigns a grid point to the trial and returns no values.
func (s *GridSampler) SampleRelative(ctx context.Context, study StudyView, trial FrozenTrial, _ SearchSpace) (map[string]float64, error) {
	trials, err := study.Trials(ctx)
	if err != nil {
		return nil, err
	}

	visited, running := s.scan(trials, trial.ID)

	var free, busy []int

	for gid := range s.points {
		switch {
		case visited[gid]:
		case running[gid]:
			busy = append(busy, gid)
		default:
			free = append(free, gid)
		}
	}

	candidates := free
	if len(candidates) == 0 {
		candidates = busy
	}

	var gid int

	if len(candidates) > 0 {
		gid = candidates[s.rng.Intn(len(candidates))]
	} else {
		gid = s.rng.Intn(len(s.points))
	}

	if err := study.SetTrialSystemAttr(ctx, trial.ID, GridIDKey, gid); err != nil {
		return nil, err
	}

	return map[string]float64{}, nil
}

// SampleIndependent returns the value of the trial's grid point for name.
func (s *GridSampler) SampleIndependent(_ context.Context, _ StudyView, trial FrozenTrial, name string, d Distribution) (float64, error) {
	gid, ok := s.gridID(trial)
	if !ok {
		return 0, fmt.Errorf("grid: trial %d has no grid point", trial.ID)
	}

	idx, found := slices.BinarySearch(s.names, name)
	if !found {
		return 0, fmt.Errorf("grid: parameter %q is not in the grid", name)
	}

	value := s.points[gid][idx]

	internal, err := d.ToInternal(value)
	if err != nil {
		return 0, fmt.Errorf("grid: value %v of %q: %w", value, name, err)
	}

	return internal, nil
}

// Exhausted implements ExhaustibleSampler.
func (s *GridSampler) Exhausted(ctx context.Context, study StudyView) (bool, error) {
	trials, err := study.Trials(ctx)
	if err != nil {
		return false, err
	}

	visited, _ := s.scan(trials, -1)

	return len(visited) == len(s.points), nil
}

// scan returns the grid points visited by finished trials and those held
// by running ones, skipping the trial with id skip.
func (s *GridSampler) scan(trials []FrozenTrial, skip int) (visited, running map[int]bool) {
	visited = make(map[int]bool)
	running = make(map[int]bool)

	for _, t := range trials {
		gid, ok := s.gridID(t)
		if !ok || t.ID == skip {
			continue
		}

		switch t.State {
		case TrialComplete, TrialPruned:
			visited[gid] = true
		case TrialRunning:
			running[gid] = true
		}
	}

	return visited, running
}

// gridID reads the grid point of a trial. Stored numbers may come back as
// float64 from a persistent storage.
func (s *GridSampler) gridID(trial FrozenTrial) (int, bool) {
	f, ok := toFloat64(trial.SystemAttrs[GridIDKey])
	if !ok {
		return 0, false
	}

	gid := int(f)
	if float64(gid) != f || gid < 0 || gid >= len(s.points) {
		return 0, false
	}

	return gid, true
}

// cartesian returns the product of the value lists in order.
func cartesian(lists [][]any) [][]any {
	out := [][]any{{}}

	for _, values := range lists {
		next := make([][]any, 0, len(out)*len(values))

		for _, prefix := range out {
			for _, v := range values {
				point := make([]any, len(prefix), len(prefix)+1)
				copy(point, prefix)
				next = append(next, append(point, v))
			}
		}

		out = next
	}

	return out
}

// NewGridSampler builds a sampler over grid, mapping parameter names to
// their candidate values. Values must be numbers, strings, bools or nil.
// A zero seed uses the current time.
//
// Usage example:
//
//	sampler, err := NewGridSampler(map[string][]any{
//	    "x": {-50, 0, 50},
//	    "y": {-99, 0, 99},
//	}, 0)
func NewGridSampler(grid map[string][]any, seed int64) (*GridSampler, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("grid: empty grid")
	}

	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}

	slices.Sort(names)

	lists := make([][]any, len(names))

	for i, name := range names {
		if len(grid[name]) == 0 {
			return nil, fmt.Errorf("grid: parameter %q has no values", name)
		}

		for _, v := range grid[name] {
			switch v.(type) {
			case nil, string, bool:
			default:
				if _, ok := toFloat64(v); !ok {
					return nil, fmt.Errorf("grid: parameter %q has a value of unsupported type %T", name, v)
				}
			}
		}

		lists[i] = slices.Clone(grid[name])
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &GridSampler{
		names:  names,
		points: cartesian(lists),
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}
