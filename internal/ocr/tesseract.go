//go:build ocr

package ocr

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"grader/internal/logger"
	"grader/pkg/models"
)

// TesseractOCRService implements OCRService with a local Tesseract engine.
// It requires Tesseract and its language data to be installed on the system.
type TesseractOCRService struct {
	language string
	log      zerolog.Logger

	// gosseract clients are not safe for concurrent use.
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractOCRService creates a Tesseract-backed service for the given language (e.g. "eng").
func NewTesseractOCRService(language string) (OCRService, error) {
	if language == "" {
		language = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
		_ = client.Close()
		return nil, WrapOCRError("NewTesseractOCRService", ErrInvalidConfiguration, err.Error())
	}
	return &TesseractOCRService{
		language: language,
		client:   client,
		log:      logger.WithComponent("tesseract"),
	}, nil
}

// Name returns the provider name.
func (t *TesseractOCRService) Name() string {
	return ProviderTesseract
}

// RecognizeImage runs Tesseract and reads word-level boxes.
func (t *TesseractOCRService) RecognizeImage(ctx context.Context, image io.Reader) (*OCRResult, error) {
	const op = "RecognizeImage"
	startTime := time.Now()

	data, _, err := readImage(op, image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapOCRError(op, err, "canceled before recognition")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(data); err != nil {
		return nil, WrapOCRError(op, ErrInvalidImage, err.Error())
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, err.Error())
	}

	tokens := make([]models.WordToken, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		tokens = append(tokens, models.WordToken{
			Text: word,
			Bounds: models.QuadFromExtent(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			),
			Confidence: float32(b.Confidence / 100.0),
		})
	}
	if len(tokens) == 0 {
		return nil, WrapOCRError(op, ErrEmptyDocument, "")
	}

	text, err := t.client.Text()
	if err != nil {
		t.log.Warn().Err(err).Msg("Failed to read Tesseract full text, joining words")
		text = strings.Join(wordTexts(tokens), " ")
	}

	now := time.Now()
	return &OCRResult{
		Tokens:             tokens,
		Text:               text,
		Provider:           t.Name(),
		PageCount:          1,
		Confidence:         averageConfidence(tokens),
		ProcessedAt:        now,
		ProcessingDuration: now.Sub(startTime),
	}, nil
}

// Close releases the Tesseract client.
func (t *TesseractOCRService) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

func wordTexts(tokens []models.WordToken) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}
