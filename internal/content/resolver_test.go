package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const lessonDocument = `---
title: Linear equations
language: English
grading_context: |
  Accept any equivalent algebraic manipulation.
---

import { ExerciseBlock } from "@/components"

<ExerciseBlock id="1-1" title="Solve">
<Question>
Solve 2x + 1 = 5 and show the derivation.
</Question>
<Solution>
2x = 4, hence x = 2.
</Solution>
<Rubric hidden>
` + "```json" + `
{"criteria": [
  {"criterion": "derivation", "points": 2, "description": "Correct derivation of x"},
  {"criterion": "final answer", "points": 1, "description": "States x = 2"}
]}
` + "```" + `
</Rubric>
</ExerciseBlock>

<ExerciseBlock id="1-2">
<Question>Broken rubric</Question>
<Rubric hidden>{"criteria": [{"points": "two", "description": "nope"}]}</Rubric>
</ExerciseBlock>

<ExerciseBlock id="1-3">
<Question>No rubric here</Question>
</ExerciseBlock>
`

type contentServer struct {
	server *httptest.Server
	hits   atomic.Int32
	auth   atomic.Value
}

func newContentServer(t *testing.T, files map[string]string) *contentServer {
	t.Helper()
	cs := &contentServer{}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		cs.auth.Store(r.Header.Get("Authorization"))

		path := strings.TrimPrefix(r.URL.Path, "/repos/vietfood/cs4all-content/contents/")
		body, ok := files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(body))
		_ = json.NewEncoder(w).Encode(map[string]string{"content": encoded, "encoding": "base64"})
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func newTestResolver(t *testing.T, cs *contentServer, cache *redis.Client) RubricResolver {
	t.Helper()
	source, err := NewGitHubSource(GitHubConfig{
		BaseURL:    cs.server.URL,
		Repository: "vietfood/cs4all-content",
		Token:      "read-token",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	return NewRubricResolver(source, cache, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop(), ResolverConfig{CacheTTL: time.Minute})
}

func TestRubricResolverParsesExerciseBlock(t *testing.T) {
	cs := newContentServer(t, map[string]string{"note/algebra/linear/index.mdx": lessonDocument})
	resolver := newTestResolver(t, cs, nil)

	rubric, err := resolver.Resolve(context.Background(), "algebra/linear#1-1")
	require.NoError(t, err)
	require.Equal(t, "1-1", rubric.ExerciseID)
	require.Equal(t, "Solve 2x + 1 = 5 and show the derivation.", rubric.Question)
	require.Equal(t, "2x = 4, hence x = 2.", rubric.Solution)
	require.Equal(t, "English", rubric.Language)
	require.Equal(t, "Accept any equivalent algebraic manipulation.", rubric.GradingContext)
	require.Len(t, rubric.Criteria, 2)
	require.Equal(t, "derivation", rubric.Criteria[0].Name)
	require.Equal(t, 2, rubric.Criteria[0].Points)
	require.Equal(t, 3, rubric.TotalPoints())
	require.Equal(t, "Bearer read-token", cs.auth.Load())
}

func TestRubricResolverNotFoundCases(t *testing.T) {
	cs := newContentServer(t, map[string]string{"note/algebra/linear/index.mdx": lessonDocument})
	resolver := newTestResolver(t, cs, nil)

	for _, lessonID := range []string{
		"algebra/linear#9-9",
		"algebra/missing#1-1",
		"algebra/linear#1-3",
		"algebra/linear",
	} {
		_, err := resolver.Resolve(context.Background(), lessonID)
		require.Truef(t, errors.Is(err, ErrRubricNotFound), "lesson %s: %v", lessonID, err)
	}
}

func TestRubricResolverRejectsMalformedRubric(t *testing.T) {
	cs := newContentServer(t, map[string]string{"note/algebra/linear/index.mdx": lessonDocument})
	resolver := newTestResolver(t, cs, nil)

	_, err := resolver.Resolve(context.Background(), "algebra/linear#1-2")
	require.True(t, errors.Is(err, ErrRubricMalformed))
}

func TestRubricResolverServesFromCache(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	cache := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	cs := newContentServer(t, map[string]string{"note/algebra/linear/index.mdx": lessonDocument})
	resolver := newTestResolver(t, cs, cache)

	first, err := resolver.Resolve(context.Background(), "algebra/linear#1-1")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "algebra/linear#1-1")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), cs.hits.Load())
	require.True(t, mini.Exists("grader:rubric:algebra/linear#1-1"))
}

func TestGitHubSourceClassifiesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source, err := NewGitHubSource(GitHubConfig{BaseURL: server.URL, Repository: "vietfood/cs4all-content"})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), "note/a/index.mdx")
	require.True(t, errors.Is(err, ErrContentUnavailable))
}

func TestParseRubricBlockDefaultsMissingNames(t *testing.T) {
	criteria, err := parseRubricBlock(`{"criteria": [{"points": 2, "description": "first"}, {"points": 1, "description": "second"}]}`)
	require.NoError(t, err)
	require.Equal(t, "criterion_1", criteria[0].Name)
	require.Equal(t, "criterion_2", criteria[1].Name)

	_, err = parseRubricBlock(`{"criteria": []}`)
	require.True(t, errors.Is(err, ErrRubricMalformed))

	_, err = parseRubricBlock(`{"criteria": [{"criterion": "a", "points": 1, "description": "x"}, {"criterion": "A ", "points": 1, "description": "y"}]}`)
	require.True(t, errors.Is(err, ErrRubricMalformed))
}
