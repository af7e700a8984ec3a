package grading

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"

	"grader/pkg/models"
)

// chatServer serves the given answers in order, one per request.
func chatServer(t *testing.T, answers []string, status int) (*httptest.Server, *int32, *[]openai.ChatCompletionRequest) {
	t.Helper()
	var calls int32
	var requests []openai.ChatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)

		n := int(atomic.AddInt32(&calls, 1)) - 1
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		content := answers[len(answers)-1]
		if n < len(answers) {
			content = answers[n]
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &requests
}

func testGrader(t *testing.T, baseURL string, structured bool) *OpenAIGrader {
	t.Helper()
	cfg := DefaultGraderConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL + "/v1"
	cfg.StructuredMarks = structured
	g, err := NewOpenAIGrader(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIGrader: %v", err)
	}
	return g
}

var sampleLines = []models.LineRecord{
	{Text: "2x + 3 = 5", WordCount: 5},
	{Text: "x = 1", WordCount: 3},
}

func TestNewOpenAIGrader_MissingKey(t *testing.T) {
	if _, err := NewOpenAIGrader(DefaultGraderConfig()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestOpenAIGrader_Structured(t *testing.T) {
	answer := `{"method_marks":[{"line_number":1,"text":"ok"}],"answer_mark":{"line_number":2,"text":"correct"}}`
	srv, calls, requests := chatServer(t, []string{answer}, http.StatusOK)

	got, err := testGrader(t, srv.URL, true).Grade(context.Background(), "2x + 3 = 5\nx = 1", sampleLines)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got != answer {
		t.Errorf("answer = %q", got)
	}
	if *calls != 1 {
		t.Errorf("calls = %d", *calls)
	}

	req := (*requests)[0]
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("structured mode should request a JSON object")
	}
	if !strings.HasPrefix(req.Messages[0].Content, SystemPrompt) {
		t.Errorf("system prompt = %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[1].Content, "1: 2x + 3 = 5\n2: x = 1\n") {
		t.Errorf("user prompt should number lines: %q", req.Messages[1].Content)
	}
}

func TestOpenAIGrader_FreeText(t *testing.T) {
	srv, _, requests := chatServer(t, []string{"  x = 1 is right  "}, http.StatusOK)

	got, err := testGrader(t, srv.URL, false).Grade(context.Background(), "2x + 3 = 5", sampleLines)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got != "x = 1 is right" {
		t.Errorf("answer = %q", got)
	}
	req := (*requests)[0]
	if req.Messages[0].Content != SystemPrompt || req.Messages[1].Content != "2x + 3 = 5" {
		t.Errorf("free-text mode should send the plain question: %+v", req.Messages)
	}
}

func TestOpenAIGrader_RetriesUnstructured(t *testing.T) {
	answer := `{"answer_mark":"fine"}`
	srv, calls, _ := chatServer(t, []string{"Looks good!", answer}, http.StatusOK)

	got, err := testGrader(t, srv.URL, true).Grade(context.Background(), "q", sampleLines)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got != answer || *calls != 2 {
		t.Errorf("answer=%q calls=%d", got, *calls)
	}
}

func TestOpenAIGrader_FallsBackToProse(t *testing.T) {
	srv, calls, _ := chatServer(t, []string{"Looks good!"}, http.StatusOK)

	got, err := testGrader(t, srv.URL, true).Grade(context.Background(), "q", sampleLines)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got != "Looks good!" || *calls != 3 {
		t.Errorf("answer=%q calls=%d", got, *calls)
	}
}

func TestOpenAIGrader_AllAttemptsFail(t *testing.T) {
	srv, calls, _ := chatServer(t, nil, http.StatusBadRequest)

	_, err := testGrader(t, srv.URL, true).Grade(context.Background(), "q", sampleLines)
	if !errors.Is(err, ErrGradingFailed) {
		t.Fatalf("expected ErrGradingFailed, got %v", err)
	}
	if *calls != 3 {
		t.Errorf("calls = %d, want 3", *calls)
	}
}
