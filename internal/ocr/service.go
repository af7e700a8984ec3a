// Package ocr turns an image of handwritten or printed work into word tokens.
//
// Every provider returns the same OCRResult: one models.WordToken per recognised word
// with its bounding quad, plus the provider's full-page text. Whole-page pseudo
// annotations (Vision's first TextAnnotation, Document AI's page layout) never reach
// the token list.
//
// Providers:
//   - vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION
//   - documentai: Google Document AI OCR processor
//   - tesseract: local Tesseract through gosseract (requires the "ocr" build tag)
//
// Google providers read credentials from GOOGLE_CREDENTIALS (inline JSON) or
// GOOGLE_APPLICATION_CREDENTIALS (file path), falling back to Application Default Credentials.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grader/pkg/models"
)

// MaxImageSizeBytes is the largest image accepted by any provider (20MB).
const MaxImageSizeBytes = 20 * 1024 * 1024

// OCRService recognises words in a single image.
type OCRService interface {
	// RecognizeImage returns the word tokens and full text found in the image.
	RecognizeImage(ctx context.Context, image io.Reader) (*OCRResult, error)

	// Name identifies the provider in logs and results.
	Name() string

	// Close releases the provider's client.
	Close() error
}

// OCRResult contains the tokens of one recognised image with metadata.
type OCRResult struct {
	// Tokens holds one entry per recognised word, in provider order.
	Tokens []models.WordToken `json:"tokens"`

	// Text is the provider's full-page transcription.
	Text string `json:"text"`

	Provider  string `json:"provider"`
	PageCount int    `json:"page_count"`

	// Confidence is the average word confidence (0.0 to 1.0), zero when the provider reports none.
	Confidence float32 `json:"confidence"`

	ProcessedAt        time.Time     `json:"processed_at"`
	ProcessingDuration time.Duration `json:"processing_duration"`

	// Raw is the provider response as JSON, kept for debugging and the raw_ocr field.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Options selects and configures a provider for NewService.
type Options struct {
	Provider    string
	ProjectID   string
	Location    string
	ProcessorID string
	Language    string
}

// NewService creates the provider named in opts.
func NewService(ctx context.Context, opts Options) (OCRService, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderVision:
		return NewGoogleVisionOCRService(ctx)
	case ProviderDocumentAI:
		return NewDocumentAIOCRService(ctx, DocumentAIConfig{
			ProjectID:   opts.ProjectID,
			Location:    opts.Location,
			ProcessorID: opts.ProcessorID,
		})
	case ProviderTesseract:
		return NewTesseractOCRService(opts.Language)
	default:
		return nil, WrapOCRError("NewService", ErrUnknownProvider, opts.Provider)
	}
}

// Provider names.
const (
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
	ProviderTesseract  = "tesseract"
)

// readImage buffers the image, enforces the size limit and sniffs the content type.
func readImage(op string, image io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(image, MaxImageSizeBytes+1))
	if err != nil {
		return nil, "", WrapOCRError(op, err, "failed to read image data")
	}
	if len(data) > MaxImageSizeBytes {
		return nil, "", WrapOCRError(op, ErrImageTooLarge, fmt.Sprintf("more than %d bytes", MaxImageSizeBytes))
	}
	if len(data) == 0 {
		return nil, "", WrapOCRError(op, ErrInvalidImage, "empty image")
	}

	mimeType := detectImageType(data)
	if mimeType == "" {
		return nil, "", WrapOCRError(op, ErrInvalidImage, "unrecognised image format")
	}
	return data, mimeType, nil
}

var (
	tiffLE = []byte("II*\x00")
	tiffBE = []byte("MM\x00*")
)

func detectImageType(data []byte) string {
	// http.DetectContentType knows no TIFF signature.
	if bytes.HasPrefix(data, tiffLE) || bytes.HasPrefix(data, tiffBE) {
		return "image/tiff"
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}

// quadFromPoints turns provider vertices into a quad. Providers occasionally return
// fewer or more vertices than four; those are normalised to their axis-aligned envelope.
// No vertices at all gives nil.
func quadFromPoints(points []models.Point) models.Quad {
	if len(points) == models.QuadCorners {
		return models.Quad(points)
	}
	if len(points) == 0 {
		return nil
	}
	return models.Quad(points).Extent().Quad()
}

func averageConfidence(tokens []models.WordToken) float32 {
	var sum float32
	var n int
	for _, t := range tokens {
		if t.Confidence > 0 {
			sum += t.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}
