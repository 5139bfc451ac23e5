package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const rawLogLimit = 2048

// FallbackClient tries each provider once, in order, and returns the first
// schema-conforming grading.
type FallbackClient struct {
	providers []Provider
	timeout   time.Duration
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewFallbackClient composes providers into a single Grader. timeout bounds
// every individual provider call.
func NewFallbackClient(providers []Provider, timeout time.Duration, logger zerolog.Logger) *FallbackClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &FallbackClient{
		providers: providers,
		timeout:   timeout,
		logger:    logger.With().Str("component", "ai_grader").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai"),
	}
}

// Grade returns the first successful grading. When every provider fails the
// error of the last one is returned, classified as a *GradingError.
func (c *FallbackClient) Grade(ctx context.Context, prompt string) (Response, error) {
	if len(c.providers) == 0 {
		return Response{}, ErrNoProviders
	}

	var lastErr error
	for index, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		if index > 0 {
			aiFallbacks.Inc()
			c.logger.Warn().Err(lastErr).Str("provider", provider.Name()).Msg("falling back to next grading provider")
		}

		response, err := c.call(ctx, provider, prompt)
		if err == nil {
			return response, nil
		}

		// a cancelled parent is not a provider failure
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		lastErr = err
	}

	return Response{}, lastErr
}

func (c *FallbackClient) call(ctx context.Context, provider Provider, prompt string) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callCtx, span := c.tracer.Start(callCtx, "ai.grade", trace.WithAttributes(
		attribute.String("ai.provider", provider.Name()),
	))
	defer span.End()

	start := time.Now()
	response, err := provider.Grade(callCtx, prompt)
	aiDuration.WithLabelValues(provider.Name(), response.Model).Observe(time.Since(start).Seconds())

	if response.Raw != "" {
		c.logger.Debug().
			Str("provider", provider.Name()).
			Str("model", response.Model).
			Str("raw", truncate(response.Raw, rawLogLimit)).
			Msg("grading provider payload")
	}

	if err != nil {
		classified := classify(callCtx, provider.Name(), err)
		aiFailures.WithLabelValues(provider.Name(), kindLabel(classified.Kind)).Inc()
		span.RecordError(classified)
		span.SetStatus(codes.Error, kindLabel(classified.Kind))
		return Response{}, classified
	}

	if response.Provider == "" {
		response.Provider = provider.Name()
	}
	span.SetAttributes(attribute.Int("ai.overall_score", response.Grading.OverallScore))
	return response, nil
}

// IsSchemaViolation reports whether err is a classified schema violation.
func IsSchemaViolation(err error) bool {
	return errors.Is(err, ErrSchemaViolation)
}
