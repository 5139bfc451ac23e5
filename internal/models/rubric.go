package models

// RubricCriterion is one weighted grading criterion of an exercise.
type RubricCriterion struct {
	Name        string `json:"criterion" validate:"required"`
	Description string `json:"description" validate:"required"`
	Points      int    `json:"points" validate:"gt=0"`
}

// Rubric bundles the reference material needed to grade one exercise.
// It is read from the content repository and is never persisted by the grader.
type Rubric struct {
	LessonID       string            `json:"lesson_id"`
	ExerciseID     string            `json:"exercise_id"`
	Question       string            `json:"question"`
	Solution       string            `json:"solution,omitempty"`
	GradingContext string            `json:"grading_context,omitempty"`
	Language       string            `json:"language,omitempty"`
	Criteria       []RubricCriterion `json:"criteria" validate:"required,min=1,dive"`
}

// TotalPoints sums the points of every criterion.
func (r Rubric) TotalPoints() int {
	total := 0
	for _, criterion := range r.Criteria {
		total += criterion.Points
	}
	return total
}
