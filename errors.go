package hpo

import (
	"errors"
	"fmt"
)

//////
// Errors.
//////

var (
	// ErrNoCompleteTrials is returned by BestTrial when the study has no
	// Complete trial yet.
	ErrNoCompleteTrials = errors.New("no complete trials")

	// ErrTrialPruned is returned by an objective function to end its trial in
	// the Pruned state. Wrapping it is fine, it's matched with errors.Is.
	ErrTrialPruned = errors.New("trial pruned")

	// ErrTrialFinished is returned when a finished trial is mutated.
	ErrTrialFinished = errors.New("trial already finished")

	// ErrTrialNotFound is returned by storages for unknown trial ids.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrStudyNotFound is returned by storages for unknown study ids.
	ErrStudyNotFound = errors.New("study not found")

	// ErrDuplicateStudy is returned when a study name is already taken.
	ErrDuplicateStudy = errors.New("study name already exists")

	// ErrInvalidDistribution is returned when a distribution's bounds or
	// choices are malformed.
	ErrInvalidDistribution = errors.New("invalid distribution")

	// ErrIncompatibleDistribution is returned when a parameter is suggested
	// twice within one trial with distributions of different kinds.
	ErrIncompatibleDistribution = errors.New("incompatible distribution")

	// ErrContractViolation is returned when a sampler returns a value for a
	// name outside its search space, or a value outside the distribution.
	ErrContractViolation = errors.New("sampler contract violation")

	// ErrUnsupportedDistribution is the sentinel matched by
	// UnsupportedDistributionError.
	ErrUnsupportedDistribution = errors.New("unsupported distribution")
)

// UnsupportedDistributionError reports a distribution kind a sampler cannot
// handle. It is fatal to the current trial and never retried.
type UnsupportedDistributionError struct {
	Sampler string
	Param   string
	Kind    DistributionKind
}

// Error implements the error interface.
func (e *UnsupportedDistributionError) Error() string {
	return fmt.Sprintf("%s: parameter %q: %s distribution is not supported", e.Sampler, e.Param, e.Kind)
}

// Is makes errors.Is(err, ErrUnsupportedDistribution) match.
func (e *UnsupportedDistributionError) Is(target error) bool {
	return target == ErrUnsupportedDistribution
}

// TrialFailedError is returned by Optimize when FailFast is set and a trial
// ends in the Failed state.
type TrialFailedError struct {
	TrialID int
	Err     error
}

// Error implements the error interface.
func (e *TrialFailedError) Error() string {
	return fmt.Sprintf("trial %d failed: %v", e.TrialID, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *TrialFailedError) Unwrap() error {
	return e.Err
}

// storageError marks a storage failure seen through a StudyView. Samplers
// and pruners may wrap it; Optimize still stops and returns it.
type storageError struct {
	err error
}

// Error implements the error interface.
func (e *storageError) Error() string { return e.err.Error() }

// Unwrap returns the storage error.
func (e *storageError) Unwrap() error { return e.err }

// isStorageErr reports whether err carries a storageError.
func isStorageErr(err error) bool {
	var se *storageError

	return errors.As(err, &se)
}
