package hpo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration: 100 trials, one worker,
// failures don't stop the run.
func DefaultConfig() OptimizeConfig {
	return OptimizeConfig{
		NTrials:      100,
		NJobs:        1,
		ProgressChan: nil, // Default to no progress updates.
	}
}

// errStop ends the workers without reporting an error.
var errStop = errors.New("stop optimization")

// Optimize runs objective trial after trial until NTrials trials are
// finished, Timeout elapses, or ctx is cancelled.
//
// How each trial runs:
//  1. A Running trial is appended to the study
//  2. The sampler infers the relative search space and samples it
//  3. The objective runs; each Suggest* call returns the relative value
//     or asks the sampler for an independent one
//  4. The trial becomes Complete (objective value), Pruned
//     (ErrTrialPruned), or Failed (any other error, a NaN value, or a
//     sampler error)
//
// A failed trial only ends its own step, unless FailFast is set, in which
// case Optimize returns a *TrialFailedError. Storage errors always stop the
// run and are returned. Reaching the timeout is not an error; cancelling
// ctx returns ctx.Err().
//
// Important notes:
//   - With NJobs > 1 trials run in parallel; the objective must be safe for
//     concurrent use
//   - Sampler calls are serialized by the study
//   - An ExhaustibleSampler such as GridSampler stops the run once it has
//     no candidates left
func (s *Study) Optimize(ctx context.Context, objective ObjectiveFunc, config OptimizeConfig) error {
	if objective == nil {
		return fmt.Errorf("optimize: objective function is required")
	}

	if config.NTrials < 0 || config.Timeout < 0 {
		return fmt.Errorf("optimize: NTrials and Timeout must not be negative")
	}

	if config.NTrials == 0 && config.Timeout == 0 && ctx.Done() == nil {
		return fmt.Errorf("optimize: one of NTrials, Timeout or a cancellable context must bound the run")
	}

	jobs := config.NJobs
	if jobs == 0 {
		jobs = 1
	}

	if jobs < 0 {
		jobs = runtime.NumCPU()
	}

	runCtx := ctx
	if config.Timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var started, finished atomic.Int64

	g, gctx := errgroup.WithContext(runCtx)

	for w := 0; w < jobs; w++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}

				done, err := s.exhausted(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}

					return err
				}

				if done {
					s.logger.Info("sampler exhausted, stopping optimization")

					return errStop
				}

				if config.NTrials > 0 && started.Add(1) > int64(config.NTrials) {
					return nil
				}

				frozen, cause, err := s.runTrial(gctx, objective)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}

					return err
				}

				s.afterTrial(gctx, config, frozen, cause, int(finished.Add(1)))

				if config.FailFast && frozen.State == TrialFailed {
					return &TrialFailedError{TrialID: frozen.ID, Err: cause}
				}
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStop) {
		return err
	}

	return ctx.Err()
}

//////
// Orchestration.
//////

// runTrial runs one optimization step. It returns the finished trial and
// the cause of its failure, if any. A non-nil error is a storage error.
func (s *Study) runTrial(ctx context.Context, objective ObjectiveFunc) (FrozenTrial, error, error) {
	start := time.Now()

	trialID, err := s.storage.CreateTrial(ctx, s.id)
	if err != nil {
		return FrozenTrial{}, nil, fmt.Errorf("create trial: %w", err)
	}

	ctx, span := s.telemetry.startTrial(ctx, s.name, trialID)
	trial := newTrial(ctx, s, trialID)

	var (
		value  float64
		objErr error
		cause  error
		state  = TrialComplete
	)

	if cause = trial.sampleRelative(); cause == nil {
		value, objErr = objective(ctx, trial)
	}

	storageErr, samplerErr := trial.errors()

	// The trial must reach a terminal state even when ctx is done.
	finishCtx := context.WithoutCancel(ctx)

	if storageErr != nil {
		s.abandon(finishCtx, trialID)
		s.telemetry.endTrial(finishCtx, span, s.name, TrialFailed, storageErr, time.Since(start))

		return FrozenTrial{}, nil, fmt.Errorf("trial %d: %w", trialID, storageErr)
	}

	switch {
	case cause != nil:
		state = TrialFailed
	case samplerErr != nil:
		state, cause = TrialFailed, samplerErr
	case errors.Is(objErr, ErrTrialPruned):
		state = TrialPruned
	case objErr != nil:
		state, cause = TrialFailed, objErr
	case math.IsNaN(value):
		state, cause = TrialFailed, fmt.Errorf("objective returned NaN")
	}

	var valuePtr *float64
	if state == TrialComplete {
		valuePtr = &value
	}

	if state == TrialFailed {
		if err := s.storage.SetTrialSystemAttr(finishCtx, s.id, trialID, FailReasonKey, cause.Error()); err != nil {
			s.telemetry.endTrial(finishCtx, span, s.name, state, err, time.Since(start))

			return FrozenTrial{}, nil, fmt.Errorf("trial %d: %w", trialID, err)
		}
	}

	if err := s.storage.FinishTrial(finishCtx, s.id, trialID, state, valuePtr); err != nil {
		s.telemetry.endTrial(finishCtx, span, s.name, state, err, time.Since(start))

		return FrozenTrial{}, nil, fmt.Errorf("finish trial %d: %w", trialID, err)
	}

	s.telemetry.endTrial(finishCtx, span, s.name, state, cause, time.Since(start))

	frozen, err := s.storage.GetTrial(finishCtx, s.id, trialID)
	if err != nil {
		return FrozenTrial{}, nil, fmt.Errorf("read trial %d: %w", trialID, err)
	}

	return frozen, cause, nil
}

// abandon marks a trial Failed after a storage error, best effort.
func (s *Study) abandon(ctx context.Context, trialID int) {
	if err := s.storage.FinishTrial(ctx, s.id, trialID, TrialFailed, nil); err != nil {
		s.logger.Error("abandon trial", zap.Int("trial", trialID), zap.Error(err))
	}
}

// afterTrial logs the trial, runs callbacks and sends progress.
func (s *Study) afterTrial(ctx context.Context, config OptimizeConfig, frozen FrozenTrial, cause error, finished int) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()

	update := ProgressUpdate{
		TrialID:  frozen.ID,
		State:    frozen.State,
		Value:    math.NaN(),
		Finished: finished,
		Total:    config.NTrials,
	}

	if frozen.Value != nil {
		update.Value = *frozen.Value
	}

	best, err := s.BestTrial(context.WithoutCancel(ctx))
	if err == nil {
		update.HasBest = true
		update.BestValue = *best.Value
		update.BestParams = best.Params
	}

	fields := []zap.Field{
		zap.Int("trial", frozen.ID),
		zap.Stringer("state", frozen.State),
		zap.Any("params", frozen.Params),
	}

	if update.HasBest {
		fields = append(fields, zap.Float64("best_value", update.BestValue), zap.Int("best_trial", best.ID))
	}

	switch frozen.State {
	case TrialComplete:
		s.logger.Info("trial finished", append(fields, zap.Float64("value", update.Value))...)
	case TrialPruned:
		s.logger.Info("trial pruned", fields...)
	default:
		s.logger.Warn("trial failed", append(fields, zap.Error(cause))...)
	}

	for _, cb := range config.Callbacks {
		cb(s, frozen)
	}

	if config.ProgressChan != nil {
		select {
		case config.ProgressChan <- update:
		default:
			// Skip update if channel is full.
		}
	}
}
