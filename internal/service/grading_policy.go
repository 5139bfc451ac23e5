package service

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/prompt"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Backoff is an exponential schedule with optional full jitter.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// DefaultMessageBackoff spaces out re-deliveries of a failed job.
var DefaultMessageBackoff = Backoff{Initial: 2 * time.Second, Multiplier: 2, Max: 30 * time.Second, Jitter: true}

// DefaultStoreBackoff spaces out store write retries inside one attempt.
var DefaultStoreBackoff = Backoff{Initial: 200 * time.Millisecond, Multiplier: 2, Max: 2 * time.Second, Jitter: true}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := b.Initial
	if delay <= 0 {
		delay = time.Millisecond
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
			break
		}
	}

	if b.Jitter {
		// #nosec G404 -- jitter does not need a cryptographic source
		return time.Duration(rand.Int64N(delay.Milliseconds()+1)) * time.Millisecond
	}
	return delay
}

type failureClass int

const (
	failureRetryable failureClass = iota
	failureFatal
)

// classifyFailure decides whether a grading failure may be retried. Template
// and provider configuration errors cannot improve on retry; everything else,
// including unknown errors, is treated as transient.
func classifyFailure(err error) failureClass {
	switch {
	case errors.Is(err, prompt.ErrTemplate), errors.Is(err, ai.ErrNoProviders):
		return failureFatal
	default:
		return failureRetryable
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, prompt.ErrTemplate):
		return "template"
	case errors.Is(err, ai.ErrNoProviders):
		return "no_providers"
	case errors.Is(err, ErrResultInvalid):
		return "result_invalid"
	case errors.Is(err, ai.ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ai.ErrTimeout):
		return "provider_timeout"
	case errors.Is(err, ai.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, content.ErrRubricNotFound), errors.Is(err, content.ErrRubricMalformed):
		return "rubric"
	case errors.Is(err, content.ErrContentUnavailable):
		return "content_unavailable"
	case errors.Is(err, errJobPanic):
		return "panic"
	default:
		return "unknown"
	}
}
