package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/prompt"
	"github.com/noah-isme/gema-grader/internal/queue"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

var errJobPanic = errors.New("grading job panicked")

// JobOutcome describes what happened to one delivery.
type JobOutcome string

const (
	// OutcomeGraded means ai_graded was written.
	OutcomeGraded JobOutcome = "graded"
	// OutcomeFailed means grading_failed was written.
	OutcomeFailed JobOutcome = "failed"
	// OutcomeRetried means the job went back on the queue with attempt+1.
	OutcomeRetried JobOutcome = "retried"
	// OutcomeRequeued means the store was unreachable and the job went back
	// with the same attempt after a growing delay.
	OutcomeRequeued JobOutcome = "requeued"
	// OutcomeDuplicate means the submission was already settled.
	OutcomeDuplicate JobOutcome = "duplicate"
	// OutcomeDropped means the message was unusable and was discarded.
	OutcomeDropped JobOutcome = "dropped"
	// OutcomeAbandoned means shutdown interrupted the job; it stays on the
	// processing list and is recovered on the next start.
	OutcomeAbandoned JobOutcome = "abandoned"
)

// GradingWorkerConfig tunes the consumer loop.
type GradingWorkerConfig struct {
	Slots          int
	MaxAttempts    int
	DequeueWait    time.Duration
	StoreRetries   int
	DepthInterval  time.Duration
	LeaseHeartbeat time.Duration
	MessageBackoff Backoff
	StoreBackoff   Backoff
}

// GradingWorker drains the grading queue.
type GradingWorker interface {
	Run(ctx context.Context) error
	Process(ctx context.Context, delivery queue.Delivery) (JobOutcome, error)
}

type gradingWorker struct {
	queue     queue.Queue
	repo      repository.ExerciseSubmissionRepository
	resolver  content.RubricResolver
	compiler  prompt.Compiler
	grader    ai.Grader
	validator ResultValidator
	events    EventPublisher
	config    GradingWorkerConfig
	logger    zerolog.Logger
	tracer    trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGradingWorker wires the consumer. A nil publisher disables outcome events.
func NewGradingWorker(
	jobs queue.Queue,
	repo repository.ExerciseSubmissionRepository,
	resolver content.RubricResolver,
	compiler prompt.Compiler,
	grader ai.Grader,
	validator ResultValidator,
	events EventPublisher,
	cfg GradingWorkerConfig,
	logger zerolog.Logger,
) GradingWorker {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = 5 * time.Second
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = 3
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = 15 * time.Second
	}
	if cfg.LeaseHeartbeat <= 0 {
		cfg.LeaseHeartbeat = queue.DefaultLeaseTTL / 3
	}
	if cfg.MessageBackoff == (Backoff{}) {
		cfg.MessageBackoff = DefaultMessageBackoff
	}
	if cfg.StoreBackoff == (Backoff{}) {
		cfg.StoreBackoff = DefaultStoreBackoff
	}
	if events == nil {
		events = NopEventPublisher{}
	}

	return &gradingWorker{
		queue:     jobs,
		repo:      repo,
		resolver:  resolver,
		compiler:  compiler,
		grader:    grader,
		validator: validator,
		events:    events,
		config:    cfg,
		logger:    logger.With().Str("component", "grading_worker").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// Run claims a lease, recovers in-flight jobs left by this consumer or by
// peers whose lease expired, and then consumes until ctx is cancelled.
func (w *gradingWorker) Run(ctx context.Context) error {
	if err := w.queue.Heartbeat(ctx); err != nil {
		return err
	}

	recovered, err := w.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover processing list: %w", err)
	}
	if recovered > 0 {
		w.logger.Info().Int("recovered", recovered).Msg("returned in-flight jobs to the queue")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for slot := 0; slot < w.config.Slots; slot++ {
		slot := slot
		group.Go(func() error {
			return w.consume(groupCtx, slot)
		})
	}
	group.Go(func() error {
		w.sampleDepth(groupCtx)
		return nil
	})
	group.Go(func() error {
		w.keepLease(groupCtx)
		return nil
	})

	w.logger.Info().Int("slots", w.config.Slots).Int("max_attempts", w.config.MaxAttempts).Msg("grading worker started")

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *gradingWorker) consume(ctx context.Context, slot int) error {
	logger := w.logger.With().Int("slot", slot).Logger()

	for {
		if ctx.Err() != nil {
			return nil
		}

		delivery, err := w.queue.Dequeue(ctx, w.config.DequeueWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("dequeue failed")
			if err := w.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		if _, err := w.Process(ctx, delivery); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("queue operation failed")
		}
	}
}

func (w *gradingWorker) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(w.config.DepthInterval)
	defer ticker.Stop()

	for {
		depth, err := w.queue.Depth(ctx)
		if err == nil {
			observability.GradingQueueDepth().WithLabelValues("waiting").Set(float64(depth.Waiting))
			observability.GradingQueueDepth().WithLabelValues("processing").Set(float64(depth.Processing))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// keepLease renews this consumer's lease and hands back work held by peers
// that stopped renewing theirs.
func (w *gradingWorker) keepLease(ctx context.Context) {
	ticker := time.NewTicker(w.config.LeaseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.queue.Heartbeat(ctx); err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("lease heartbeat failed")
			}
			continue
		}

		reaped, err := w.queue.ReapExpired(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("reaping expired consumers failed")
		}
		if reaped > 0 {
			w.logger.Info().Int("reaped", reaped).Msg("returned jobs of expired consumers to the queue")
		}
	}
}

// Process handles one delivery end to end. The returned error only reports
// queue bookkeeping failures; grading failures are settled internally.
func (w *gradingWorker) Process(ctx context.Context, delivery queue.Delivery) (outcome JobOutcome, err error) {
	start := time.Now()
	defer func() {
		observability.GradingJobs().WithLabelValues(string(outcome)).Inc()
		observability.GradingJobDuration().WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
	}()

	message, decodeErr := queue.Decode(delivery.Raw)
	if decodeErr != nil {
		w.logger.Warn().Err(decodeErr).Msg("dropping malformed job message")
		return OutcomeDropped, w.queue.Ack(ctx, delivery)
	}

	id, parseErr := uuid.Parse(message.SubmissionID)
	if parseErr != nil {
		w.logger.Warn().Str("submission_id", message.SubmissionID).Msg("dropping job with invalid submission id")
		return OutcomeDropped, w.queue.Ack(ctx, delivery)
	}

	logger := w.logger.With().Str("submission_id", id.String()).Int("attempt", message.Attempt).Logger()

	ctx, span := w.tracer.Start(ctx, "grading.job", trace.WithAttributes(
		attribute.String("grading.submission_id", id.String()),
		attribute.Int("grading.attempt", message.Attempt),
	))
	defer func() {
		span.SetAttributes(attribute.String("grading.outcome", string(outcome)))
		span.End()
	}()

	var submission models.ExerciseSubmission
	readErr := w.withStoreRetry(ctx, func() error {
		var getErr error
		submission, getErr = w.repo.GetByID(ctx, id)
		if errors.Is(getErr, gorm.ErrRecordNotFound) {
			return storeNoRetry{getErr}
		}
		return getErr
	})
	switch {
	case readErr == nil:
	case errors.Is(readErr, gorm.ErrRecordNotFound):
		logger.Warn().Msg("submission not found, dropping job")
		return OutcomeDropped, w.queue.Ack(ctx, delivery)
	case ctx.Err() != nil:
		return OutcomeAbandoned, ctx.Err()
	default:
		span.RecordError(readErr)
		return w.deferForStore(ctx, logger, delivery, message, readErr)
	}

	if !submission.IsPending() {
		if submission.IsTerminal() {
			logger.Info().Str("status", submission.Status).Msg("submission already settled, skipping")
		} else {
			logger.Warn().Str("status", submission.Status).Msg("submission in unrecognised status, skipping")
		}
		return OutcomeDuplicate, w.queue.Ack(ctx, delivery)
	}

	result, gradeErr := w.grade(ctx, logger, submission)
	if gradeErr != nil {
		if ctx.Err() != nil {
			return OutcomeAbandoned, ctx.Err()
		}
		span.RecordError(gradeErr)
		span.SetStatus(codes.Error, failureReason(gradeErr))
		return w.handleFailure(ctx, logger, delivery, message, gradeErr)
	}

	score := result.OverallScore
	return w.settle(ctx, logger, delivery, message, models.ExerciseStatusAIGraded, &score, func() error {
		return w.repo.MarkGraded(ctx, id, result, w.now())
	})
}

func (w *gradingWorker) grade(ctx context.Context, logger zerolog.Logger, submission models.ExerciseSubmission) (result models.GradingResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", errJobPanic, recovered)
		}
	}()

	rubric, err := w.resolver.Resolve(ctx, submission.LessonID)
	if err != nil {
		return models.GradingResult{}, fmt.Errorf("resolve rubric %s: %w", submission.LessonID, err)
	}

	text, err := w.compiler.Compile(rubric, submission.Content, "")
	if err != nil {
		return models.GradingResult{}, err
	}

	response, err := w.grader.Grade(ctx, text)
	if err != nil {
		return models.GradingResult{}, err
	}

	result = toGradingResult(response.Grading)
	if err := w.validator.Validate(result, rubric); err != nil {
		logger.Debug().Str("provider", response.Provider).Err(err).Msg("candidate grading rejected")
		return models.GradingResult{}, err
	}

	logger.Info().
		Str("provider", response.Provider).
		Str("model", response.Model).
		Int("score", result.OverallScore).
		Msg("submission graded")
	return result, nil
}

func (w *gradingWorker) handleFailure(ctx context.Context, logger zerolog.Logger, delivery queue.Delivery, message queue.Message, cause error) (JobOutcome, error) {
	reason := failureReason(cause)

	if classifyFailure(cause) == failureRetryable && message.Attempt < w.config.MaxAttempts {
		delay := w.config.MessageBackoff.Delay(message.Attempt)
		logger.Warn().Err(cause).Str("reason", reason).Dur("backoff", delay).Msg("grading attempt failed, retrying")

		if err := w.sleep(ctx, delay); err != nil {
			return OutcomeAbandoned, err
		}
		return OutcomeRetried, w.queue.Requeue(ctx, delivery, message.Next(w.now()))
	}

	logger.Error().Err(cause).Str("reason", reason).Msg("grading failed permanently")
	id := uuid.MustParse(message.SubmissionID)
	return w.settle(ctx, logger, delivery, message, models.ExerciseStatusGradingFailed, nil, func() error {
		return w.repo.MarkFailed(ctx, id, w.now())
	})
}

// settle performs a terminal write and acknowledges the delivery.
func (w *gradingWorker) settle(ctx context.Context, logger zerolog.Logger, delivery queue.Delivery, message queue.Message, status string, score *int, write func() error) (JobOutcome, error) {
	err := w.withStoreRetry(ctx, func() error {
		err := write()
		if errors.Is(err, repository.ErrStatusConflict) {
			return storeNoRetry{err}
		}
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusConflict):
		logger.Info().Msg("submission settled by another consumer")
		return OutcomeDuplicate, w.queue.Ack(ctx, delivery)
	case ctx.Err() != nil:
		return OutcomeAbandoned, ctx.Err()
	default:
		return w.deferForStore(ctx, logger.With().Str("status", status).Logger(), delivery, message, err)
	}

	if err := w.queue.Ack(ctx, delivery); err != nil {
		return outcomeFor(status), err
	}

	event := GradingEvent{
		SubmissionID: uuid.MustParse(message.SubmissionID),
		Status:       status,
		Score:        score,
		Attempt:      message.Attempt,
		At:           w.now(),
	}
	if err := w.events.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to publish grading event")
	}

	return outcomeFor(status), nil
}

// deferForStore puts the job back after a store outage. The delay grows with
// each consecutive outage while the grading attempt stays the same.
func (w *gradingWorker) deferForStore(ctx context.Context, logger zerolog.Logger, delivery queue.Delivery, message queue.Message, cause error) (JobOutcome, error) {
	next := message.Deferred(w.now())
	delay := w.config.MessageBackoff.Delay(next.StoreRetries)
	logger.Error().
		Err(cause).
		Int("store_retries", next.StoreRetries).
		Dur("backoff", delay).
		Msg("submission store unavailable, requeueing")

	if err := w.sleep(ctx, delay); err != nil {
		return OutcomeAbandoned, err
	}
	return OutcomeRequeued, w.queue.Requeue(ctx, delivery, next)
}

// storeNoRetry marks an outcome that retrying the store cannot change.
type storeNoRetry struct{ err error }

func (e storeNoRetry) Error() string { return e.err.Error() }
func (e storeNoRetry) Unwrap() error { return e.err }

func (w *gradingWorker) withStoreRetry(ctx context.Context, operation func() error) error {
	var err error
	for try := 1; try <= w.config.StoreRetries; try++ {
		err = operation()
		if err == nil {
			return nil
		}

		var final storeNoRetry
		if errors.As(err, &final) {
			return final.err
		}
		if try == w.config.StoreRetries {
			break
		}
		if sleepErr := w.sleep(ctx, w.config.StoreBackoff.Delay(try)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func outcomeFor(status string) JobOutcome {
	if status == models.ExerciseStatusAIGraded {
		return OutcomeGraded
	}
	return OutcomeFailed
}

func toGradingResult(grading ai.Grading) models.GradingResult {
	feedback := make([]models.FeedbackItem, 0, len(grading.Feedback))
	for _, item := range grading.Feedback {
		feedback = append(feedback, models.FeedbackItem{
			Criterion:      item.Criterion,
			PointsAwarded:  item.PointsAwarded,
			PointsPossible: item.PointsPossible,
			Comment:        item.Comment,
		})
	}
	return models.GradingResult{OverallScore: grading.OverallScore, Feedback: feedback}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
