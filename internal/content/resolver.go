package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// ErrRubricNotFound indicates the lesson document or exercise block does not exist.
var ErrRubricNotFound = errors.New("rubric not found")

// ErrRubricMalformed indicates the rubric block exists but does not parse into criteria.
var ErrRubricMalformed = errors.New("rubric malformed")

// RubricResolver loads the grading reference material of one exercise.
type RubricResolver interface {
	Resolve(ctx context.Context, lessonID string) (models.Rubric, error)
}

// ResolverConfig tunes caching behaviour.
type ResolverConfig struct {
	CacheTTL    time.Duration
	CachePrefix string
}

type rubricResolver struct {
	source    Source
	cache     *redis.Client
	validator *validator.Validate
	logger    zerolog.Logger
	config    ResolverConfig
}

// NewRubricResolver builds a resolver backed by source. A nil cache disables caching.
func NewRubricResolver(source Source, cache *redis.Client, validate *validator.Validate, logger zerolog.Logger, cfg ResolverConfig) RubricResolver {
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "grader:rubric:"
	}
	return &rubricResolver{
		source:    source,
		cache:     cache,
		validator: validate,
		logger:    logger.With().Str("component", "rubric_resolver").Logger(),
		config:    cfg,
	}
}

func (r *rubricResolver) Resolve(ctx context.Context, lessonID string) (models.Rubric, error) {
	if rubric, ok := r.cached(ctx, lessonID); ok {
		observability.RubricLookups().WithLabelValues("cache").Inc()
		return rubric, nil
	}
	observability.RubricLookups().WithLabelValues("content").Inc()

	path, exerciseID, err := splitLessonID(lessonID)
	if err != nil {
		return models.Rubric{}, err
	}

	document, err := r.source.Fetch(ctx, path)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return models.Rubric{}, fmt.Errorf("%w: %v", ErrRubricNotFound, err)
		}
		return models.Rubric{}, err
	}

	block := findExerciseBlock(document, exerciseID)
	if !block.found {
		return models.Rubric{}, fmt.Errorf("%w: exercise block %q missing in %s", ErrRubricNotFound, exerciseID, path)
	}
	if block.rubricRaw == "" {
		return models.Rubric{}, fmt.Errorf("%w: exercise block %q has no rubric", ErrRubricNotFound, exerciseID)
	}

	criteria, err := parseRubricBlock(block.rubricRaw)
	if err != nil {
		r.logger.Warn().Err(err).Str("lesson_id", lessonID).Msg("rubric parse failed")
		return models.Rubric{}, err
	}

	meta, err := parseFrontmatter(document)
	if err != nil {
		r.logger.Warn().Err(err).Str("lesson_id", lessonID).Msg("ignoring unreadable frontmatter")
	}

	rubric := models.Rubric{
		LessonID:       lessonID,
		ExerciseID:     exerciseID,
		Question:       block.question,
		Solution:       block.solution,
		GradingContext: meta.GradingContext,
		Language:       meta.Language,
		Criteria:       criteria,
	}

	if err := r.validator.Struct(rubric); err != nil {
		return models.Rubric{}, fmt.Errorf("%w: %v", ErrRubricMalformed, err)
	}

	r.logger.Info().
		Str("lesson_id", lessonID).
		Int("criteria", len(rubric.Criteria)).
		Bool("has_solution", rubric.Solution != "").
		Msg("rubric resolved")

	r.store(ctx, rubric)
	return rubric, nil
}

func (r *rubricResolver) cached(ctx context.Context, lessonID string) (models.Rubric, bool) {
	if r.cache == nil {
		return models.Rubric{}, false
	}

	payload, err := r.cache.Get(ctx, r.config.CachePrefix+lessonID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Msg("failed to read rubric cache")
		}
		return models.Rubric{}, false
	}

	var rubric models.Rubric
	if err := json.Unmarshal([]byte(payload), &rubric); err != nil {
		return models.Rubric{}, false
	}
	if err := r.validator.Struct(rubric); err != nil {
		return models.Rubric{}, false
	}

	r.logger.Debug().Str("lesson_id", lessonID).Msg("rubric cache hit")
	return rubric, true
}

func (r *rubricResolver) store(ctx context.Context, rubric models.Rubric) {
	if r.cache == nil || r.config.CacheTTL <= 0 {
		return
	}

	payload, err := json.Marshal(rubric)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.config.CachePrefix+rubric.LessonID, payload, r.config.CacheTTL).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to store rubric cache")
	}
}
