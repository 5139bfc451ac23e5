package models

// FeedbackItem is the per-criterion breakdown of a grading result.
type FeedbackItem struct {
	Criterion      string `json:"criterion" validate:"required"`
	PointsAwarded  int    `json:"points_awarded" validate:"gte=0"`
	PointsPossible int    `json:"points_possible" validate:"gte=0"`
	Comment        string `json:"comment"`
}

// GradingResult is stored verbatim in exercise_submissions.llm_feedback.
type GradingResult struct {
	OverallScore int            `json:"overall_score" validate:"gte=0,lte=100"`
	Feedback     []FeedbackItem `json:"feedback" validate:"required,min=1,dive"`
}
