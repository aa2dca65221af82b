// Package hpo provides hyperparameter optimization driven by pluggable
// samplers. A Study records trials; each trial asks the study's Sampler
// which parameter values to evaluate, given the history of past trials and
// their outcomes.
//
// # Features
//
//   - Sampler protocol: relative sampling of several parameters jointly,
//     independent sampling of the rest, in a fixed per-trial order
//   - Search-space inference: the parameters whose distribution agreed in
//     every Complete trial form the relative search space
//   - Distributions: uniform, log-uniform, discrete-uniform, integer,
//     integer log-uniform and categorical
//   - Built-in samplers: RandomSampler, AnnealingSampler, GridSampler and
//     GPSampler (Bayesian optimization with acquisition functions)
//   - Pruning: report intermediate values and stop unpromising trials with
//     MedianPruner
//   - Parallel optimization: NJobs workers share a study safely
//   - Storage: in-memory by default, SQLite in package sqlitestore
//   - Observability: zap logging, OpenTelemetry metrics and spans, progress
//     channel and callbacks
//
// # Quick start
//
//	study, err := hpo.CreateStudy(ctx, hpo.WithDirection(hpo.Minimize))
//	if err != nil {
//	    return err
//	}
//
//	err = study.Optimize(ctx, func(ctx context.Context, trial *hpo.Trial) (float64, error) {
//	    x, err := trial.SuggestUniform("x", -100, 100)
//	    if err != nil {
//	        return 0, err
//	    }
//
//	    y, err := trial.SuggestCategorical("y", -1, 0, 1)
//	    if err != nil {
//	        return 0, err
//	    }
//
//	    return x*x + float64(y.(int)), nil
//	}, hpo.DefaultConfig())
//
// # Samplers
//
// For every trial the study calls the sampler's InferRelativeSearchSpace,
// then SampleRelative, before the objective runs. Each Suggest* call of the
// objective then either returns the relative value, when the parameter was
// in the relative search space with the same distribution, or asks
// SampleIndependent for a value.
//
// Writing a sampler means implementing the three methods of Sampler. An
// adapter for an external ask/tell optimizer asks in SampleRelative,
// translating the SearchSpace into the external library's parameter space,
// and tells from the study history on the next trial.
//
// # Thread Safety
//
//   - Study, InMemoryStorage and sqlitestore.Store are safe for concurrent
//     use
//   - Trial ids are assigned and terminal transitions applied atomically by
//     the storage
//   - Sampler calls are serialized by the study; samplers used outside a
//     study need external synchronization
package hpo
