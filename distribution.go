package hpo

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
)

//////
// Const, vars, types.
//////

// DistributionKind names the shape of a parameter's domain.
type DistributionKind string

const (
	// KindUniform is a continuous range sampled linearly.
	KindUniform DistributionKind = "uniform"

	// KindLogUniform is a continuous, strictly positive range sampled in
	// log-space.
	KindLogUniform DistributionKind = "log_uniform"

	// KindDiscreteUniform is a continuous range quantized by a step.
	KindDiscreteUniform DistributionKind = "discrete_uniform"

	// KindIntUniform is an integer range sampled linearly.
	KindIntUniform DistributionKind = "int_uniform"

	// KindIntLogUniform is a strictly positive integer range sampled in
	// log-space.
	KindIntLogUniform DistributionKind = "int_log_uniform"

	// KindCategorical is an ordered list of opaque choices.
	KindCategorical DistributionKind = "categorical"
)

// Distribution describes the domain of a single parameter.
//
// Samplers exchange parameter values in their internal representation, a
// float64. For numeric kinds the internal value is the value itself, for
// categorical distributions it is the index of the choice. ToExternal and
// ToInternal convert between the two.
//
// Distributions are values: they are immutable once constructed and two
// distributions are the same distribution only if Equal reports so, which
// requires the kind and every bound (or every choice) to match exactly.
type Distribution interface {
	// Kind returns the tag of the concrete distribution.
	Kind() DistributionKind

	// Validate checks the bounds or choices.
	Validate() error

	// Sample draws an internal value from the domain using rng.
	Sample(rng *rand.Rand) float64

	// Contains reports whether an internal value lies in the domain.
	Contains(internal float64) bool

	// ToExternal converts an internal value to the user-facing value.
	ToExternal(internal float64) any

	// ToInternal converts a user-facing value to its internal value.
	ToInternal(external any) (float64, error)

	// Equal reports whether other has the same kind and bounds or choices.
	Equal(other Distribution) bool
}

// NumericDistribution is implemented by every kind except categorical.
type NumericDistribution interface {
	Distribution

	// Bounds returns the inclusive range of the domain.
	Bounds() (low, high float64)

	// IsLog reports whether the distribution is sampled in log-space.
	IsLog() bool
}

// UniformDistribution is a continuous range [Low, High].
type UniformDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// LogUniformDistribution is a continuous range [Low, High] sampled
// uniformly in log-space. Low must be positive.
type LogUniformDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// DiscreteUniformDistribution is the grid Low, Low+Step, ... clamped to High.
type DiscreteUniformDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	Step float64 `json:"step"`
}

// IntUniformDistribution is the integer range [Low, High].
type IntUniformDistribution struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// IntLogUniformDistribution is the integer range [Low, High] sampled in
// log-space. Low must be at least 1.
type IntLogUniformDistribution struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// CategoricalDistribution is an ordered, non-empty list of choices.
type CategoricalDistribution struct {
	Choices []any `json:"choices"`
}

//////
// Uniform.
//////

// Kind implements Distribution.
func (d UniformDistribution) Kind() DistributionKind { return KindUniform }

// Validate implements Distribution.
func (d UniformDistribution) Validate() error {
	return validateRange(KindUniform, d.Low, d.High)
}

// Sample implements Distribution.
func (d UniformDistribution) Sample(rng *rand.Rand) float64 {
	if d.Low == d.High {
		return d.Low
	}

	return clamp(d.Low+rng.Float64()*(d.High-d.Low), d.Low, d.High)
}

// Contains implements Distribution.
func (d UniformDistribution) Contains(v float64) bool {
	return d.Low <= v && v <= d.High
}

// ToExternal implements Distribution.
func (d UniformDistribution) ToExternal(v float64) any { return v }

// ToInternal implements Distribution.
func (d UniformDistribution) ToInternal(external any) (float64, error) {
	return numericToInternal(d, external)
}

// Equal implements Distribution.
func (d UniformDistribution) Equal(other Distribution) bool {
	o, ok := other.(UniformDistribution)

	return ok && o == d
}

// Bounds implements NumericDistribution.
func (d UniformDistribution) Bounds() (float64, float64) { return d.Low, d.High }

// IsLog implements NumericDistribution.
func (d UniformDistribution) IsLog() bool { return false }

func (d UniformDistribution) String() string {
	return fmt.Sprintf("Uniform(%g, %g)", d.Low, d.High)
}

//////
// Log uniform.
//////

// Kind implements Distribution.
func (d LogUniformDistribution) Kind() DistributionKind { return KindLogUniform }

// Validate implements Distribution.
func (d LogUniformDistribution) Validate() error {
	if err := validateRange(KindLogUniform, d.Low, d.High); err != nil {
		return err
	}

	if d.Low <= 0 {
		return fmt.Errorf("%w: %s low must be positive, got %g", ErrInvalidDistribution, KindLogUniform, d.Low)
	}

	return nil
}

// Sample implements Distribution.
func (d LogUniformDistribution) Sample(rng *rand.Rand) float64 {
	if d.Low == d.High {
		return d.Low
	}

	logLow, logHigh := math.Log(d.Low), math.Log(d.High)

	return clamp(math.Exp(logLow+rng.Float64()*(logHigh-logLow)), d.Low, d.High)
}

// Contains implements Distribution.
func (d LogUniformDistribution) Contains(v float64) bool {
	return d.Low <= v && v <= d.High
}

// ToExternal implements Distribution.
func (d LogUniformDistribution) ToExternal(v float64) any { return v }

// ToInternal implements Distribution.
func (d LogUniformDistribution) ToInternal(external any) (float64, error) {
	return numericToInternal(d, external)
}

// Equal implements Distribution.
func (d LogUniformDistribution) Equal(other Distribution) bool {
	o, ok := other.(LogUniformDistribution)

	return ok && o == d
}

// Bounds implements NumericDistribution.
func (d LogUniformDistribution) Bounds() (float64, float64) { return d.Low, d.High }

// IsLog implements NumericDistribution.
func (d LogUniformDistribution) IsLog() bool { return true }

func (d LogUniformDistribution) String() string {
	return fmt.Sprintf("LogUniform(%g, %g)", d.Low, d.High)
}

//////
// Discrete uniform.
//////

// Kind implements Distribution.
func (d DiscreteUniformDistribution) Kind() DistributionKind { return KindDiscreteUniform }

// Validate implements Distribution.
func (d DiscreteUniformDistribution) Validate() error {
	if err := validateRange(KindDiscreteUniform, d.Low, d.High); err != nil {
		return err
	}

	if !(d.Step > 0) || math.IsInf(d.Step, 0) {
		return fmt.Errorf("%w: %s step must be positive, got %g", ErrInvalidDistribution, KindDiscreteUniform, d.Step)
	}

	return nil
}

// Sample draws a continuous value over the grid cells and snaps it to the
// nearest grid point.
func (d DiscreteUniformDistribution) Sample(rng *rand.Rand) float64 {
	if d.Low == d.High {
		return d.Low
	}

	x := d.Low - d.Step/2 + rng.Float64()*(d.High-d.Low+d.Step)

	return quantize(x, d.Low, d.High, d.Step)
}

// Contains implements Distribution.
func (d DiscreteUniformDistribution) Contains(v float64) bool {
	if v < d.Low || v > d.High {
		return false
	}

	k := (v - d.Low) / d.Step

	return math.Abs(k-math.Round(k)) < 1e-8 || v == d.High
}

// ToExternal implements Distribution.
func (d DiscreteUniformDistribution) ToExternal(v float64) any { return v }

// ToInternal implements Distribution.
func (d DiscreteUniformDistribution) ToInternal(external any) (float64, error) {
	return numericToInternal(d, external)
}

// Equal implements Distribution.
func (d DiscreteUniformDistribution) Equal(other Distribution) bool {
	o, ok := other.(DiscreteUniformDistribution)

	return ok && o == d
}

// Bounds implements NumericDistribution.
func (d DiscreteUniformDistribution) Bounds() (float64, float64) { return d.Low, d.High }

// IsLog implements NumericDistribution.
func (d DiscreteUniformDistribution) IsLog() bool { return false }

func (d DiscreteUniformDistribution) String() string {
	return fmt.Sprintf("DiscreteUniform(%g, %g, step=%g)", d.Low, d.High, d.Step)
}

//////
// Int uniform.
//////

// Kind implements Distribution.
func (d IntUniformDistribution) Kind() DistributionKind { return KindIntUniform }

// Validate implements Distribution.
func (d IntUniformDistribution) Validate() error {
	if d.Low > d.High {
		return fmt.Errorf("%w: %s low %d > high %d", ErrInvalidDistribution, KindIntUniform, d.Low, d.High)
	}

	return nil
}

// Sample implements Distribution.
func (d IntUniformDistribution) Sample(rng *rand.Rand) float64 {
	span := uint64(d.High) - uint64(d.Low)
	if span < math.MaxInt64 {
		return float64(d.Low + rng.Int63n(int64(span)+1))
	}

	// The range holds more values than Int63n can draw from. At least half
	// of all uint64 offsets are accepted.
	for {
		if off := rng.Uint64(); off <= span {
			return float64(int64(uint64(d.Low) + off))
		}
	}
}

// Contains implements Distribution.
func (d IntUniformDistribution) Contains(v float64) bool {
	return v == math.Trunc(v) && float64(d.Low) <= v && v <= float64(d.High)
}

// ToExternal implements Distribution.
func (d IntUniformDistribution) ToExternal(v float64) any { return int64(math.Round(v)) }

// ToInternal implements Distribution.
func (d IntUniformDistribution) ToInternal(external any) (float64, error) {
	return numericToInternal(d, external)
}

// Equal implements Distribution.
func (d IntUniformDistribution) Equal(other Distribution) bool {
	o, ok := other.(IntUniformDistribution)

	return ok && o == d
}

// Bounds implements NumericDistribution.
func (d IntUniformDistribution) Bounds() (float64, float64) {
	return float64(d.Low), float64(d.High)
}

// IsLog implements NumericDistribution.
func (d IntUniformDistribution) IsLog() bool { return false }

func (d IntUniformDistribution) String() string {
	return fmt.Sprintf("IntUniform(%d, %d)", d.Low, d.High)
}

//////
// Int log uniform.
//////

// Kind implements Distribution.
func (d IntLogUniformDistribution) Kind() DistributionKind { return KindIntLogUniform }

// Validate implements Distribution.
func (d IntLogUniformDistribution) Validate() error {
	if d.Low > d.High {
		return fmt.Errorf("%w: %s low %d > high %d", ErrInvalidDistribution, KindIntLogUniform, d.Low, d.High)
	}

	if d.Low < 1 {
		return fmt.Errorf("%w: %s low must be >= 1, got %d", ErrInvalidDistribution, KindIntLogUniform, d.Low)
	}

	return nil
}

// Sample widens the range by half a unit on both sides so that the end
// points are as likely as their log-width suggests, then rounds.
func (d IntLogUniformDistribution) Sample(rng *rand.Rand) float64 {
	if d.Low == d.High {
		return float64(d.Low)
	}

	logLow := math.Log(float64(d.Low) - 0.5)
	logHigh := math.Log(float64(d.High) + 0.5)
	x := math.Round(math.Exp(logLow + rng.Float64()*(logHigh-logLow)))

	return clamp(x, float64(d.Low), float64(d.High))
}

// Contains implements Distribution.
func (d IntLogUniformDistribution) Contains(v float64) bool {
	return v == math.Trunc(v) && float64(d.Low) <= v && v <= float64(d.High)
}

// ToExternal implements Distribution.
func (d IntLogUniformDistribution) ToExternal(v float64) any { return int64(math.Round(v)) }

// ToInternal implements Distribution.
func (d IntLogUniformDistribution) ToInternal(external any) (float64, error) {
	return numericToInternal(d, external)
}

// Equal implements Distribution.
func (d IntLogUniformDistribution) Equal(other Distribution) bool {
	o, ok := other.(IntLogUniformDistribution)

	return ok && o == d
}

// Bounds implements NumericDistribution.
func (d IntLogUniformDistribution) Bounds() (float64, float64) {
	return float64(d.Low), float64(d.High)
}

// IsLog implements NumericDistribution.
func (d IntLogUniformDistribution) IsLog() bool { return true }

func (d IntLogUniformDistribution) String() string {
	return fmt.Sprintf("IntLogUniform(%d, %d)", d.Low, d.High)
}

//////
// Categorical.
//////

// Kind implements Distribution.
func (d CategoricalDistribution) Kind() DistributionKind { return KindCategorical }

// Validate implements Distribution.
func (d CategoricalDistribution) Validate() error {
	if len(d.Choices) == 0 {
		return fmt.Errorf("%w: %s needs at least one choice", ErrInvalidDistribution, KindCategorical)
	}

	return nil
}

// Sample implements Distribution.
func (d CategoricalDistribution) Sample(rng *rand.Rand) float64 {
	return float64(rng.Intn(len(d.Choices)))
}

// Contains implements Distribution.
func (d CategoricalDistribution) Contains(v float64) bool {
	return v == math.Trunc(v) && v >= 0 && int(v) < len(d.Choices)
}

// ToExternal implements Distribution.
func (d CategoricalDistribution) ToExternal(v float64) any {
	return d.Choices[int(v)]
}

// ToInternal returns the index of the first choice equal to external.
func (d CategoricalDistribution) ToInternal(external any) (float64, error) {
	for i, c := range d.Choices {
		if choiceEqual(c, external) {
			return float64(i), nil
		}
	}

	return 0, fmt.Errorf("%w: %v is not one of the choices %v", ErrInvalidDistribution, external, d.Choices)
}

// Equal implements Distribution.
func (d CategoricalDistribution) Equal(other Distribution) bool {
	o, ok := other.(CategoricalDistribution)
	if !ok || len(o.Choices) != len(d.Choices) {
		return false
	}

	for i := range d.Choices {
		if !choiceEqual(d.Choices[i], o.Choices[i]) {
			return false
		}
	}

	return true
}

func (d CategoricalDistribution) String() string {
	return fmt.Sprintf("Categorical(%v)", d.Choices)
}

//////
// Helpers.
//////

func validateRange(kind DistributionKind, low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return fmt.Errorf("%w: %s bounds must be finite, got [%g, %g]", ErrInvalidDistribution, kind, low, high)
	}

	if low > high {
		return fmt.Errorf("%w: %s low %g > high %g", ErrInvalidDistribution, kind, low, high)
	}

	return nil
}

func numericToInternal(d Distribution, external any) (float64, error) {
	v, ok := toFloat64(external)
	if !ok {
		return 0, fmt.Errorf("%w: %v (%T) is not numeric", ErrInvalidDistribution, external, external)
	}

	if !d.Contains(v) {
		return 0, fmt.Errorf("%w: %v is outside %v", ErrInvalidDistribution, external, d)
	}

	return v, nil
}

// choiceEqual compares two categorical choices. Numbers compare by value
// regardless of their Go type, since persisted choices come back as float64.
func choiceEqual(a, b any) bool {
	fa, okA := toFloat64(a)
	fb, okB := toFloat64(b)
	if okA && okB {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
