package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, content string, finishReason string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": finishReason,
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIGraderRequestsStrictSchema(t *testing.T) {
	var body map[string]interface{}
	content := `{"overall_score": 85, "feedback": [{"criterion": "Correctness", "points_awarded": 4, "points_possible": 5, "comment": "ok"}]}`
	server := newChatServer(t, content, "stop", &body)

	grader, err := NewOpenAIGrader(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	resp, err := grader.Grade(context.Background(), "grade this")
	require.NoError(t, err)
	require.Equal(t, 85, resp.Grading.OverallScore)
	require.Equal(t, "openai", resp.Provider)
	require.Equal(t, content, resp.Raw)

	format, ok := body["response_format"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]interface{})
	require.Equal(t, "grading_response", schema["name"])
	require.Equal(t, true, schema["strict"])
}

func TestOpenAIGraderRejectsFreeText(t *testing.T) {
	server := newChatServer(t, "The student did well.", "stop", nil)

	grader, err := NewOpenAIGrader(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = grader.Grade(context.Background(), "grade this")
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestOpenAIGraderTreatsTruncationAsViolation(t *testing.T) {
	server := newChatServer(t, `{"overall_score": 85, "feedback": [`, "length", nil)

	grader, err := NewOpenAIGrader(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = grader.Grade(context.Background(), "grade this")
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestOpenAIGraderServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	grader, err := NewOpenAIGrader(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = grader.Grade(context.Background(), "grade this")
	require.Error(t, err)
	require.ErrorIs(t, classify(context.Background(), "openai", err), ErrProviderUnavailable)
}

func TestNewOpenAIGraderRequiresKey(t *testing.T) {
	_, err := NewOpenAIGrader(OpenAIConfig{})
	require.Error(t, err)
}

func TestExtractGeminiText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"overall_score": 70,`),
				genai.Text(` "feedback": []}`),
			}},
		}},
	}

	text, err := extractGeminiText(resp)
	require.NoError(t, err)
	require.Equal(t, `{"overall_score": 70, "feedback": []}`, text)

	_, err = extractGeminiText(&genai.GenerateContentResponse{})
	require.Error(t, err)

	_, err = extractGeminiText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		FinishReason: genai.FinishReasonMaxTokens,
		Content:      &genai.Content{Parts: []genai.Part{genai.Text("{")}},
	}}})
	require.Error(t, err)
}
