package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	// ExerciseStatusSubmitted is the initial state written by the submitting client.
	ExerciseStatusSubmitted = "submitted"
	// ExerciseStatusAIGraded indicates a validated grading result is attached.
	ExerciseStatusAIGraded = "ai_graded"
	// ExerciseStatusGradingFailed indicates grading gave up; no result is attached.
	ExerciseStatusGradingFailed = "grading_failed"
	// ExerciseStatusHumanReviewed is written by the reviewer workflow only.
	ExerciseStatusHumanReviewed = "human_reviewed"
)

// ExerciseSubmission is a learner's free-form answer to a lesson exercise.
type ExerciseSubmission struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	LessonID      string         `gorm:"size:255;not null" json:"lesson_id"`
	Content       string         `gorm:"type:text;not null" json:"content"`
	Status        string         `gorm:"size:32;not null;index" json:"status"`
	LLMScore      *int           `json:"llm_score"`
	LLMFeedback   datatypes.JSON `json:"llm_feedback"`
	ReviewerScore *int           `json:"reviewer_score"`
	SubmittedAt   time.Time      `gorm:"not null" json:"submitted_at"`
	GradedAt      *time.Time     `json:"graded_at"`
	ReviewedAt    *time.Time     `json:"reviewed_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName pins the table shared with the submitting client.
func (ExerciseSubmission) TableName() string {
	return "exercise_submissions"
}

// IsPending reports whether the pipeline still owns the submission.
func (s ExerciseSubmission) IsPending() bool {
	return s.Status == ExerciseStatusSubmitted
}

// IsTerminal reports whether the pipeline performs no further writes.
func (s ExerciseSubmission) IsTerminal() bool {
	switch s.Status {
	case ExerciseStatusAIGraded, ExerciseStatusGradingFailed, ExerciseStatusHumanReviewed:
		return true
	default:
		return false
	}
}
