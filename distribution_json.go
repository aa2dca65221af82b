package hpo

import (
	"encoding/json"
	"fmt"
)

type distributionJSON struct {
	Kind       DistributionKind `json:"kind"`
	Attributes json.RawMessage  `json:"attributes"`
}

// DistributionToJSON serializes a distribution together with its kind so
// that DistributionFromJSON can restore the concrete type.
//
// Usage example:
//
//	s, _ := DistributionToJSON(UniformDistribution{Low: 0, High: 1})
//	// {"kind":"uniform","attributes":{"low":0,"high":1}}
func DistributionToJSON(d Distribution) (string, error) {
	attrs, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal %s distribution: %w", d.Kind(), err)
	}

	out, err := json.Marshal(distributionJSON{Kind: d.Kind(), Attributes: attrs})
	if err != nil {
		return "", fmt.Errorf("marshal %s distribution: %w", d.Kind(), err)
	}

	return string(out), nil
}

// DistributionFromJSON restores a distribution written by DistributionToJSON.
//
// Categorical choices come back in their JSON types: numbers are float64.
// Equal treats numeric choices by value, so restored distributions still
// compare equal to the originals.
func DistributionFromJSON(s string) (Distribution, error) {
	var raw distributionJSON
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal distribution: %w", err)
	}

	var (
		d   Distribution
		err error
	)

	switch raw.Kind {
	case KindUniform:
		var v UniformDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case KindLogUniform:
		var v LogUniformDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case KindDiscreteUniform:
		var v DiscreteUniformDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case KindIntUniform:
		var v IntUniformDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case KindIntLogUniform:
		var v IntLogUniformDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case KindCategorical:
		var v CategoricalDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDistribution, raw.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("unmarshal %s attributes: %w", raw.Kind, err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}
