package ai

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	calls int
	grade func(ctx context.Context) (Response, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Grade(ctx context.Context, prompt string) (Response, error) {
	s.calls++
	return s.grade(ctx)
}

func blockUntilDone(ctx context.Context) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func TestFallbackClientUsesSecondaryAfterTimeout(t *testing.T) {
	primary := &stubProvider{name: "primary", grade: blockUntilDone}
	secondary := &stubProvider{name: "secondary", grade: func(ctx context.Context) (Response, error) {
		return Response{Grading: Grading{OverallScore: 60, Feedback: []FeedbackItem{{Criterion: "Correctness", PointsAwarded: 3, PointsPossible: 5}}}}, nil
	}}

	client := NewFallbackClient([]Provider{primary, secondary}, 20*time.Millisecond, zerolog.Nop())

	resp, err := client.Grade(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, 60, resp.Grading.OverallScore)
	require.Equal(t, "secondary", resp.Provider)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
}

func TestFallbackClientReturnsClassifiedErrorWhenAllFail(t *testing.T) {
	primary := &stubProvider{name: "primary", grade: blockUntilDone}
	secondary := &stubProvider{name: "secondary", grade: func(ctx context.Context) (Response, error) {
		return Response{}, errors.New("503 service unavailable")
	}}

	client := NewFallbackClient([]Provider{primary, secondary}, 20*time.Millisecond, zerolog.Nop())

	_, err := client.Grade(context.Background(), "prompt")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProviderUnavailable)

	var gradingErr *GradingError
	require.ErrorAs(t, err, &gradingErr)
	require.Equal(t, "secondary", gradingErr.Provider)
}

func TestFallbackClientClassifiesTimeout(t *testing.T) {
	only := &stubProvider{name: "only", grade: blockUntilDone}
	client := NewFallbackClient([]Provider{only}, 10*time.Millisecond, zerolog.Nop())

	_, err := client.Grade(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestFallbackClientSchemaViolationFallsThrough(t *testing.T) {
	primary := &stubProvider{name: "primary", grade: func(ctx context.Context) (Response, error) {
		_, err := DecodeGrading("primary", "Great job! 9/10")
		return Response{Raw: "Great job! 9/10"}, err
	}}
	secondary := &stubProvider{name: "secondary", grade: func(ctx context.Context) (Response, error) {
		return Response{}, schemaViolation("secondary", "missing feedback")
	}}

	client := NewFallbackClient([]Provider{primary, secondary}, time.Second, zerolog.Nop())

	_, err := client.Grade(context.Background(), "prompt")
	require.True(t, IsSchemaViolation(err))
	require.Equal(t, 1, primary.calls)
}

func TestFallbackClientUsesSecondaryWhenPrimaryScoreOutOfRange(t *testing.T) {
	raw := `{"overall_score": 150, "feedback": [
		{"criterion": "Correctness", "points_awarded": -4, "points_possible": 5, "comment": "?"}
	]}`
	primary := &stubProvider{name: "primary", grade: func(ctx context.Context) (Response, error) {
		grading, err := DecodeGrading("primary", raw)
		return Response{Grading: grading, Raw: raw}, err
	}}
	secondary := &stubProvider{name: "secondary", grade: func(ctx context.Context) (Response, error) {
		return Response{Grading: Grading{OverallScore: 70, Feedback: []FeedbackItem{{Criterion: "Correctness", PointsAwarded: 3, PointsPossible: 5}}}}, nil
	}}

	client := NewFallbackClient([]Provider{primary, secondary}, time.Second, zerolog.Nop())

	resp, err := client.Grade(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "secondary", resp.Provider)
	require.Equal(t, 70, resp.Grading.OverallScore)
	require.Equal(t, 1, secondary.calls)
}

func TestFallbackClientWithoutProviders(t *testing.T) {
	client := NewFallbackClient(nil, time.Second, zerolog.Nop())

	_, err := client.Grade(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestFallbackClientStopsOnParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &stubProvider{name: "primary", grade: func(callCtx context.Context) (Response, error) {
		cancel()
		<-callCtx.Done()
		return Response{}, callCtx.Err()
	}}
	secondary := &stubProvider{name: "secondary", grade: func(ctx context.Context) (Response, error) {
		return Response{}, nil
	}}

	client := NewFallbackClient([]Provider{primary, secondary}, time.Second, zerolog.Nop())

	_, err := client.Grade(ctx, "prompt")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, secondary.calls)
}

func TestDecodeGradingRejectsNonConformingOutput(t *testing.T) {
	cases := map[string]string{
		"free text":     "Looks good to me",
		"fenced":        "```json\n{\"overall_score\": 80, \"feedback\": []}\n```",
		"missing field": `{"overall_score": 80}`,
		"extra field":   `{"overall_score": 80, "feedback": [{"criterion": "A", "points_awarded": 1, "points_possible": 1, "comment": "ok"}], "notes": "x"}`,
		"wrong type":    `{"overall_score": "80", "feedback": [{"criterion": "A", "points_awarded": 1, "points_possible": 1, "comment": "ok"}]}`,
		"empty array":   `{"overall_score": 80, "feedback": []}`,
		"score above":   `{"overall_score": 150, "feedback": [{"criterion": "A", "points_awarded": 1, "points_possible": 1, "comment": "ok"}]}`,
		"score below":   `{"overall_score": -1, "feedback": [{"criterion": "A", "points_awarded": 0, "points_possible": 1, "comment": "ok"}]}`,
		"negative pts":  `{"overall_score": 0, "feedback": [{"criterion": "A", "points_awarded": -4, "points_possible": 1, "comment": "ok"}]}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeGrading("test", raw)
			require.ErrorIs(t, err, ErrSchemaViolation)
		})
	}
}

func TestDecodeGradingAcceptsConformingOutput(t *testing.T) {
	raw := `{"overall_score": 85, "feedback": [
		{"criterion": "Correctness", "points_awarded": 4, "points_possible": 5, "comment": "Minor slip"},
		{"criterion": "Clarity", "points_awarded": 3, "points_possible": 3, "comment": "Clear"}
	]}`

	grading, err := DecodeGrading("test", raw)
	require.NoError(t, err)
	require.Equal(t, 85, grading.OverallScore)
	require.Len(t, grading.Feedback, 2)
	require.Equal(t, "Clarity", grading.Feedback[1].Criterion)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	raw := "điểm số"
	require.Equal(t, raw, truncate(raw, 64))

	// "đ" is two bytes; cutting after one must not split it
	out := truncate(raw, 1)
	require.True(t, utf8.ValidString(out))
	require.Equal(t, "…(12 bytes)", out)

	out = truncate(raw, 3)
	require.True(t, utf8.ValidString(out))
	require.Equal(t, "đi…(12 bytes)", out)
}
