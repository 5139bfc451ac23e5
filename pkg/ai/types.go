package ai

import "context"

// FeedbackItem is one per-criterion entry of a grading response.
type FeedbackItem struct {
	Criterion      string `json:"criterion"`
	PointsAwarded  int    `json:"points_awarded"`
	PointsPossible int    `json:"points_possible"`
	Comment        string `json:"comment"`
}

// Grading is the structured output every provider must produce.
type Grading struct {
	OverallScore int            `json:"overall_score"`
	Feedback     []FeedbackItem `json:"feedback"`
}

// Response carries a candidate grading plus the raw provider payload. Raw is
// kept for logging during the attempt only and must never be persisted.
type Response struct {
	Grading  Grading
	Raw      string
	Provider string
	Model    string
}

// Provider is one inference backend capable of constrained grading output.
type Provider interface {
	Name() string
	Grade(ctx context.Context, prompt string) (Response, error)
}

// Grader produces a schema-conforming grading for a compiled prompt.
type Grader interface {
	Grade(ctx context.Context, prompt string) (Response, error)
}
