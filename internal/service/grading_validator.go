package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ErrResultInvalid marks a candidate grading that fails the rubric checks.
var ErrResultInvalid = errors.New("grading result invalid")

// ResultInvalidError lists every violation found in a candidate grading.
type ResultInvalidError struct {
	Violations []string
}

func (e *ResultInvalidError) Error() string {
	return fmt.Sprintf("%v: %s", ErrResultInvalid, strings.Join(e.Violations, "; "))
}

func (e *ResultInvalidError) Unwrap() error {
	return ErrResultInvalid
}

// ResultValidator checks a candidate grading against the rubric it was produced for.
type ResultValidator interface {
	Validate(result models.GradingResult, rubric models.Rubric) error
}

type resultValidator struct {
	validator *validator.Validate
}

// NewResultValidator builds the validator that gates every write of ai_graded.
func NewResultValidator(validate *validator.Validate) ResultValidator {
	return &resultValidator{validator: validate}
}

func (v *resultValidator) Validate(result models.GradingResult, rubric models.Rubric) error {
	var violations []string

	if err := v.validator.Struct(result); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fieldErr := range fieldErrs {
			violations = append(violations, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
	}

	expected := make(map[string]models.RubricCriterion, len(rubric.Criteria))
	for _, criterion := range rubric.Criteria {
		expected[criterionKey(criterion.Name)] = criterion
	}
	covered := make(map[string]bool, len(expected))

	for index, item := range result.Feedback {
		if item.PointsAwarded > item.PointsPossible {
			violations = append(violations, fmt.Sprintf("feedback[%d] awards %d of %d points", index, item.PointsAwarded, item.PointsPossible))
		}

		key := criterionKey(item.Criterion)
		criterion, ok := expected[key]
		if !ok {
			violations = append(violations, fmt.Sprintf("feedback[%d] names unknown criterion %q", index, item.Criterion))
			continue
		}
		if covered[key] {
			violations = append(violations, fmt.Sprintf("feedback[%d] repeats criterion %q", index, criterion.Name))
			continue
		}
		covered[key] = true

		if item.PointsPossible != criterion.Points {
			violations = append(violations, fmt.Sprintf("feedback[%d] claims %d possible points for %q, rubric has %d", index, item.PointsPossible, criterion.Name, criterion.Points))
		}
	}

	for _, criterion := range rubric.Criteria {
		if !covered[criterionKey(criterion.Name)] {
			violations = append(violations, fmt.Sprintf("criterion %q has no feedback", criterion.Name))
		}
	}

	if len(violations) > 0 {
		return &ResultInvalidError{Violations: violations}
	}
	return nil
}

func criterionKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
