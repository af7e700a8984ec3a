package grading

import "errors"

var (
	// ErrMissingAPIKey is returned when no OpenAI API key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required for grading")

	// ErrEmptyResponse is returned when the language model answers with no content.
	ErrEmptyResponse = errors.New("empty response from grader")

	// ErrGradingFailed is returned when every grading attempt failed.
	ErrGradingFailed = errors.New("grading failed")

	// ErrNoText is returned when OCR produced no lines to grade.
	ErrNoText = errors.New("no text to grade")
)
