package content

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/gema-grader/internal/models"
)

const rubricSchema = `{
  "type": "object",
  "required": ["criteria"],
  "properties": {
    "criteria": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["points", "description"],
        "properties": {
          "criterion": {"type": "string"},
          "points": {"type": "integer", "exclusiveMinimum": 0},
          "description": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var (
	questionPattern = regexp.MustCompile(`(?s)<Question>(.*?)</Question>`)
	solutionPattern = regexp.MustCompile(`(?s)<Solution>(.*?)</Solution>`)
	rubricPattern   = regexp.MustCompile(`(?s)<Rubric[^>]*>(.*?)</Rubric>`)

	compiledRubricSchema = jsonschema.MustCompileString("rubric.json", rubricSchema)
)

type frontmatter struct {
	Title          string `yaml:"title"`
	GradingContext string `yaml:"grading_context"`
	Language       string `yaml:"language"`
}

type exerciseBlock struct {
	question  string
	solution  string
	rubricRaw string
	found     bool
}

type rubricDocument struct {
	Criteria []models.RubricCriterion `json:"criteria"`
}

// splitLessonID maps "prml/1-exercise#1-1" to the page document path and exercise id.
func splitLessonID(lessonID string) (string, string, error) {
	idx := strings.LastIndex(lessonID, "#")
	if idx <= 0 || idx == len(lessonID)-1 {
		return "", "", fmt.Errorf("%w: lesson id %q has no exercise part", ErrRubricNotFound, lessonID)
	}

	page := strings.Trim(lessonID[:idx], "/ ")
	exercise := strings.TrimSpace(lessonID[idx+1:])
	if page == "" || exercise == "" || strings.Contains(page, "..") {
		return "", "", fmt.Errorf("%w: invalid lesson id %q", ErrRubricNotFound, lessonID)
	}

	return fmt.Sprintf("note/%s/index.mdx", page), exercise, nil
}

func parseFrontmatter(document string) (frontmatter, error) {
	var meta frontmatter
	trimmed := strings.TrimLeft(document, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return meta, nil
	}

	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return meta, nil
	}

	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return frontmatter{}, err
	}

	meta.GradingContext = strings.TrimSpace(meta.GradingContext)
	meta.Language = strings.TrimSpace(meta.Language)
	return meta, nil
}

func findExerciseBlock(document, exerciseID string) exerciseBlock {
	pattern := regexp.MustCompile(`(?s)<ExerciseBlock\s[^>]*id="` + regexp.QuoteMeta(exerciseID) + `"[^>]*>(.*?)</ExerciseBlock>`)
	match := pattern.FindStringSubmatch(document)
	if match == nil {
		return exerciseBlock{}
	}

	body := match[1]
	return exerciseBlock{
		question:  firstGroup(questionPattern, body),
		solution:  firstGroup(solutionPattern, body),
		rubricRaw: firstGroup(rubricPattern, body),
		found:     true,
	}
}

func firstGroup(pattern *regexp.Regexp, body string) string {
	match := pattern.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// parseRubricBlock decodes the hidden rubric JSON. Either every criterion
// parses or the whole block is rejected.
func parseRubricBlock(raw string) ([]models.RubricCriterion, error) {
	cleaned := cleanJSONBlock(raw)

	var generic interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRubricMalformed, err)
	}
	if err := compiledRubricSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRubricMalformed, err)
	}

	var document rubricDocument
	if err := json.Unmarshal([]byte(cleaned), &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRubricMalformed, err)
	}

	criteria := make([]models.RubricCriterion, 0, len(document.Criteria))
	seen := make(map[string]struct{}, len(document.Criteria))
	for i, criterion := range document.Criteria {
		criterion.Name = strings.TrimSpace(criterion.Name)
		criterion.Description = strings.TrimSpace(criterion.Description)
		if criterion.Name == "" {
			criterion.Name = fmt.Sprintf("criterion_%d", i+1)
		}
		key := normalizeName(criterion.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate criterion %q", ErrRubricMalformed, criterion.Name)
		}
		seen[key] = struct{}{}
		criteria = append(criteria, criterion)
	}

	return criteria, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// cleanJSONBlock removes markdown code fences around JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
