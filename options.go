package hpo

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures CreateStudy and LoadStudy.
type Option func(*studyOptions)

type studyOptions struct {
	name           string
	direction      Direction
	storage        Storage
	sampler        Sampler
	pruner         Pruner
	logger         *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithStudyName sets the study name. Empty names get a generated one.
func WithStudyName(name string) Option {
	return func(o *studyOptions) { o.name = name }
}

// WithDirection sets the optimization direction. Defaults to Minimize.
func WithDirection(d Direction) Option {
	return func(o *studyOptions) { o.direction = d }
}

// WithStorage sets the persistence backend. Defaults to a fresh
// InMemoryStorage.
func WithStorage(s Storage) Option {
	return func(o *studyOptions) { o.storage = s }
}

// WithSampler sets the sampler. Defaults to a RandomSampler.
func WithSampler(s Sampler) Option {
	return func(o *studyOptions) { o.sampler = s }
}

// WithPruner sets the pruner. Defaults to NopPruner.
func WithPruner(p Pruner) Option {
	return func(o *studyOptions) { o.pruner = p }
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *studyOptions) { o.logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *studyOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *studyOptions) { o.tracerProvider = tp }
}

func resolveOptions(opts []Option) studyOptions {
	o := studyOptions{direction: Minimize}
	for _, opt := range opts {
		opt(&o)
	}

	if o.storage == nil {
		o.storage = NewInMemoryStorage()
	}

	if o.sampler == nil {
		o.sampler = NewRandomSampler(0)
	}

	if o.pruner == nil {
		o.pruner = NopPruner{}
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}

	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	return o
}
