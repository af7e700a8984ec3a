package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"grader/internal/logger"
	"grader/pkg/models"
)

// SystemPrompt frames the language model for every grading request.
const SystemPrompt = "You're a helpful math tutor."

// Grader produces feedback for the text recognised on a worksheet.
type Grader interface {
	Grade(ctx context.Context, question string, lines []models.LineRecord) (string, error)
}

// GraderConfig configures the OpenAI grader
type GraderConfig struct {
	APIKey          string
	BaseURL         string  // Optional, for OpenAI-compatible endpoints
	Model           string  // gpt-4, gpt-4o, ...
	Temperature     float32 // Sampling temperature
	MaxRetries      int     // Attempts before giving up
	StructuredMarks bool    // Ask for JSON marks that cite line numbers
	MaxTokens       int
}

// DefaultGraderConfig returns the settings used when nothing is configured.
func DefaultGraderConfig() GraderConfig {
	return GraderConfig{
		Model:           "gpt-4",
		Temperature:     0.2,
		MaxRetries:      3,
		StructuredMarks: true,
		MaxTokens:       1500,
	}
}

// OpenAIGrader grades with the OpenAI chat completions API.
type OpenAIGrader struct {
	client *openai.Client
	config GraderConfig
	log    zerolog.Logger
}

// NewOpenAIGrader creates a grader from config.
func NewOpenAIGrader(config GraderConfig) (*OpenAIGrader, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Model == "" {
		config.Model = DefaultGraderConfig().Model
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIGrader{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		log:    logger.WithComponent("openai-grader"),
	}, nil
}

// Grade sends the recognised text to the model and returns its raw answer.
// In structured mode an answer that is not the JSON mark format is retried; if
// every attempt returns prose, the last answer is returned as free text.
func (g *OpenAIGrader) Grade(ctx context.Context, question string, lines []models.LineRecord) (string, error) {
	const op = "Grade"

	req := openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: g.buildPrompt(question, lines)},
		},
	}
	if g.config.StructuredMarks {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	g.log.Debug().
		Str("model", g.config.Model).
		Int("lines", len(lines)).
		Bool("structured", g.config.StructuredMarks).
		Msg("Sending grading request")

	var lastErr error
	var lastContent string
	for attempt := 1; attempt <= g.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			g.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", g.config.MaxRetries).
				Msg("Grading request failed, retrying")
			continue
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = ErrEmptyResponse
			g.log.Warn().Int("attempt", attempt).Msg("Empty grading response, retrying")
			continue
		}

		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if g.config.StructuredMarks && !ParseFeedback(content).Structured {
			lastContent = content
			lastErr = fmt.Errorf("answer is not in the mark format")
			g.log.Warn().
				Str("response", content).
				Int("attempt", attempt).
				Msg("Unstructured grading response, retrying")
			continue
		}

		g.log.Info().
			Int("attempt", attempt).
			Int("response_length", len(content)).
			Int("total_tokens", resp.Usage.TotalTokens).
			Msg("Received grading response")
		return content, nil
	}

	if lastContent != "" {
		g.log.Warn().Msg("Falling back to free-text grading response")
		return lastContent, nil
	}

	return "", fmt.Errorf("%w: %s: all %d attempts failed, last error: %w", ErrGradingFailed, op, g.config.MaxRetries, lastErr)
}

func (g *OpenAIGrader) systemPrompt() string {
	if !g.config.StructuredMarks {
		return SystemPrompt
	}
	return SystemPrompt + `

Grade the student's handwritten work. The work is given as numbered lines recognised by OCR.
Return ONLY a JSON object of this form:
{
  "method_marks": [{"line_number": 1, "text": "remark about the working on that line"}],
  "answer_mark": {"line_number": 3, "text": "remark about the final answer"},
  "feedback": "one short overall comment"
}
- line_number must be one of the numbers shown in front of the lines
- Use one method mark per line you comment on
- Do not add a trailing comma after the last field`
}

func (g *OpenAIGrader) buildPrompt(question string, lines []models.LineRecord) string {
	if !g.config.StructuredMarks {
		return question
	}
	var b strings.Builder
	b.WriteString("Student work:\n")
	b.WriteString(formatNumberedLines(lines))
	return b.String()
}

// formatNumberedLines renders lines as "1: text" so the grader can cite them by number.
func formatNumberedLines(lines []models.LineRecord) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%d: %s\n", i+1, l.Text)
	}
	return b.String()
}
