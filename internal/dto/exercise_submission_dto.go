package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AdminSubmissionResponse is the reviewer-facing view of a graded submission.
// It has no field for the compiled prompt or raw provider output.
type AdminSubmissionResponse struct {
	ID                uuid.UUID             `json:"id"`
	UserID            uuid.UUID             `json:"user_id"`
	LessonID          string                `json:"lesson_id"`
	Content           string                `json:"content"`
	Status            string                `json:"status"`
	Question          string                `json:"question,omitempty"`
	ReferenceSolution string                `json:"reference_solution,omitempty"`
	LLMScore          *int                  `json:"llm_score"`
	LLMFeedback       *models.GradingResult `json:"llm_feedback"`
	ReviewerScore     *int                  `json:"reviewer_score"`
	SubmittedAt       time.Time             `json:"submitted_at"`
	GradedAt          *time.Time            `json:"graded_at"`
	ReviewedAt        *time.Time            `json:"reviewed_at"`
}

// NewAdminSubmissionResponse maps a submission and its rubric into the reviewer DTO.
// A nil rubric leaves the reference fields empty.
func NewAdminSubmissionResponse(submission models.ExerciseSubmission, rubric *models.Rubric) (AdminSubmissionResponse, error) {
	response := AdminSubmissionResponse{
		ID:            submission.ID,
		UserID:        submission.UserID,
		LessonID:      submission.LessonID,
		Content:       submission.Content,
		Status:        submission.Status,
		LLMScore:      submission.LLMScore,
		ReviewerScore: submission.ReviewerScore,
		SubmittedAt:   submission.SubmittedAt,
		GradedAt:      submission.GradedAt,
		ReviewedAt:    submission.ReviewedAt,
	}

	if rubric != nil {
		response.Question = rubric.Question
		response.ReferenceSolution = rubric.Solution
	}

	if len(submission.LLMFeedback) > 0 {
		var result models.GradingResult
		if err := json.Unmarshal(submission.LLMFeedback, &result); err != nil {
			return AdminSubmissionResponse{}, err
		}
		response.LLMFeedback = &result
	}

	return response, nil
}
