package hpo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTelemetry(t *testing.T) {
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { require.NoError(t, mp.Shutdown(ctx)) }()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { require.NoError(t, tp.Shutdown(ctx)) }()

	study, err := CreateStudy(ctx,
		WithStudyName("traced"),
		WithMeterProvider(mp),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)

	err = study.Optimize(ctx, func(ctx context.Context, trial *Trial) (float64, error) {
		if trial.ID()%3 == 2 {
			return 0, errors.New("boom")
		}

		return quadratic(ctx, trial)
	}, OptimizeConfig{NTrials: 6})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}

	var durations uint64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case MetricTrials:
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)

				for _, dp := range sum.DataPoints {
					name, _ := dp.Attributes.Value(attribute.Key("hpo.study"))
					assert.Equal(t, "traced", name.AsString())

					state, _ := dp.Attributes.Value(attribute.Key("hpo.trial.state"))
					counts[state.AsString()] += dp.Value
				}
			case MetricTrialDuration:
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)

				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			}
		}
	}

	assert.Equal(t, map[string]int64{"COMPLETE": 4, "FAIL": 2}, counts)
	assert.Equal(t, uint64(6), durations)

	spans := recorder.Ended()
	require.Len(t, spans, 6)

	var failed int

	for _, span := range spans {
		assert.Equal(t, "hpo.trial", span.Name())

		if span.Status().Code == codes.Error {
			failed++
		}
	}

	assert.Equal(t, 2, failed)
}
