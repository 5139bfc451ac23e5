package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ErrStatusConflict indicates the conditional write found the submission no
// longer in the submitted state; another consumer already settled it.
var ErrStatusConflict = errors.New("submission is no longer pending")

// ExerciseSubmissionRepository is the grader's only read and write path to submissions.
type ExerciseSubmissionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (models.ExerciseSubmission, error)
	MarkGraded(ctx context.Context, id uuid.UUID, result models.GradingResult, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type exerciseSubmissionRepository struct {
	db *gorm.DB
}

// NewExerciseSubmissionRepository constructs the submission store accessor.
func NewExerciseSubmissionRepository(db *gorm.DB) ExerciseSubmissionRepository {
	return &exerciseSubmissionRepository{db: db}
}

func (r *exerciseSubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (models.ExerciseSubmission, error) {
	var submission models.ExerciseSubmission
	if err := r.db.WithContext(ctx).First(&submission, "id = ?", id).Error; err != nil {
		return models.ExerciseSubmission{}, err
	}
	return submission, nil
}

// MarkGraded writes score, feedback and status in one statement guarded by status = submitted.
func (r *exerciseSubmissionRepository) MarkGraded(ctx context.Context, id uuid.UUID, result models.GradingResult, at time.Time) error {
	feedback, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode grading result: %w", err)
	}

	return r.transition(ctx, id, map[string]interface{}{
		"status":       models.ExerciseStatusAIGraded,
		"llm_score":    result.OverallScore,
		"llm_feedback": datatypes.JSON(feedback),
		"graded_at":    at,
	})
}

// MarkFailed settles the submission as grading_failed without touching score or feedback.
func (r *exerciseSubmissionRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":    models.ExerciseStatusGradingFailed,
		"graded_at": at,
	})
}

func (r *exerciseSubmissionRepository) transition(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.ExerciseSubmission{}).
		Where("id = ? AND status = ?", id, models.ExerciseStatusSubmitted).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
