package hpo

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/thalesfsp/hpo"

// Metric names.
const (
	MetricTrials        = "hpo.trials"
	MetricTrialDuration = "hpo.trial.duration"
)

// telemetry holds the instruments a study records trials with.
type telemetry struct {
	tracer   trace.Tracer
	trials   metric.Int64Counter
	duration metric.Float64Histogram
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	meter := mp.Meter(instrumentationName)

	trials, err := meter.Int64Counter(MetricTrials,
		metric.WithDescription("Finished trials by terminal state."),
		metric.WithUnit("{trial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create %s counter: %w", MetricTrials, err)
	}

	duration, err := meter.Float64Histogram(MetricTrialDuration,
		metric.WithDescription("Wall-clock duration of a trial."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create %s histogram: %w", MetricTrialDuration, err)
	}

	return &telemetry{
		tracer:   tp.Tracer(instrumentationName),
		trials:   trials,
		duration: duration,
	}, nil
}

func (t *telemetry) startTrial(ctx context.Context, study string, trialID int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hpo.trial", trace.WithAttributes(
		attribute.String("hpo.study", study),
		attribute.Int("hpo.trial.id", trialID),
	))
}

func (t *telemetry) endTrial(ctx context.Context, span trace.Span, study string, state TrialState, cause error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("hpo.study", study),
		attribute.String("hpo.trial.state", state.String()),
	)

	t.trials.Add(ctx, 1, attrs)
	t.duration.Record(ctx, elapsed.Seconds(), attrs)

	span.SetAttributes(attribute.String("hpo.trial.state", state.String()))

	if state == TrialFailed && cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
	}

	span.End()
}
