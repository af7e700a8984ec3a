// Package grading runs the worksheet pipeline: OCR, line reconstruction, grading by a
// language model and anchoring of the grader's remarks to image regions.
package grading

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grader/internal/align"
	"grader/internal/lines"
	"grader/internal/logger"
	"grader/internal/ocr"
	"grader/pkg/models"
)

// Service wires an OCR provider and a grader around the line and alignment core.
type Service struct {
	ocr     ocr.OCRService
	grader  Grader
	aligner *align.Aligner
	lines   lines.Config
	log     zerolog.Logger
}

// ServiceConfig holds the thresholds used by the pipeline.
type ServiceConfig struct {
	Lines          lines.Config
	MatchThreshold float64
}

// DefaultServiceConfig returns the default line and match thresholds.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Lines:          lines.DefaultConfig(),
		MatchThreshold: align.DefaultThreshold,
	}
}

// NewService creates a grading service.
func NewService(ocrService ocr.OCRService, grader Grader, config ServiceConfig) (*Service, error) {
	aligner, err := align.NewAligner(config.MatchThreshold)
	if err != nil {
		return nil, err
	}
	if config.Lines.YThreshold <= 0 || config.Lines.XThreshold <= 0 {
		return nil, fmt.Errorf("%w: y=%v x=%v", lines.ErrInvalidThreshold, config.Lines.YThreshold, config.Lines.XThreshold)
	}
	return &Service{
		ocr:     ocrService,
		grader:  grader,
		aligner: aligner,
		lines:   config.Lines,
		log:     logger.WithComponent("grading"),
	}, nil
}

// GradeImage recognises the image and grades it. An empty requestID is replaced by a new UUID.
func (s *Service) GradeImage(ctx context.Context, requestID string, image io.Reader) (*models.GradeResult, error) {
	const op = "GradeImage"
	startTime := time.Now()

	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := s.log.With().Str("request_id", requestID).Logger()

	log.Info().Str("provider", s.ocr.Name()).Msg("Starting OCR")

	ocrResult, err := s.ocr.RecognizeImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%s: OCR failed: %w", op, err)
	}

	result, err := s.GradeTokens(ctx, requestID, ocrResult.Tokens, ocrResult.Text)
	if err != nil {
		return nil, err
	}

	result.Provider = ocrResult.Provider
	result.RawOCR = ocrResult.Raw
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime).String()
	return result, nil
}

// GradeTokens grades already recognised tokens. fullText is the provider's page text;
// when empty the reconstructed lines are used as the question.
func (s *Service) GradeTokens(ctx context.Context, requestID string, tokens []models.WordToken, fullText string) (*models.GradeResult, error) {
	const op = "GradeTokens"
	startTime := time.Now()

	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := s.log.With().Str("request_id", requestID).Logger()

	lineRecords, err := lines.Group(tokens, s.lines)
	if err != nil {
		return nil, fmt.Errorf("%s: line reconstruction failed: %w", op, err)
	}
	if len(lineRecords) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoText)
	}

	question := strings.TrimSpace(fullText)
	if question == "" {
		question = strings.Join(models.LineTexts(lineRecords), "\n")
	}

	log.Info().
		Int("tokens", len(tokens)).
		Int("lines", len(lineRecords)).
		Msg("Reconstructed lines, requesting grade")

	answer, err := s.grader.Grade(ctx, question, lineRecords)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := &models.GradeResult{
		RequestID:         requestID,
		Question:          question,
		Answer:            answer,
		Lines:             lineRecords,
		Alignments:        []models.AlignmentRecord{},
		IndexedAlignments: []models.IndexedAlignment{},
	}
	s.anchor(result, ParseFeedback(answer))

	matched := 0
	for _, a := range result.Alignments {
		if a.Matched() {
			matched++
		}
	}
	log.Info().
		Int("alignments", len(result.Alignments)).
		Int("matched", matched).
		Int("indexed", len(result.IndexedAlignments)).
		Int("omissions", len(result.Omissions)).
		Msg("Grading completed")

	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime).String()
	return result, nil
}

// anchor resolves numbered marks by index and aligns everything else by text.
func (s *Service) anchor(result *models.GradeResult, fb Feedback) {
	anchors := Anchor(s.aligner, fb, result.Lines)
	result.Alignments = anchors.Alignments
	result.IndexedAlignments = anchors.Indexed
	result.Omissions = anchors.Omissions
}

// Anchors is where the remarks of one grader answer landed.
type Anchors struct {
	Alignments []models.AlignmentRecord  `json:"alignments"`
	Indexed    []models.IndexedAlignment `json:"indexed_alignments"`
	Omissions  []models.Omission         `json:"omissions,omitempty"`
}

// Anchor places feedback on lines. Free text is aligned fragment by fragment; structured
// marks with a line number are resolved by index and the remaining marks are aligned by text.
func Anchor(a *align.Aligner, fb Feedback, lineRecords []models.LineRecord) Anchors {
	if !fb.Structured {
		return Anchors{
			Alignments: a.AlignLines(fb.Fragments, lineRecords),
			Indexed:    []models.IndexedAlignment{},
		}
	}

	indexed, omitted := a.AlignByIndex(fb.Numbered(), lineRecords)
	return Anchors{
		Alignments: a.AlignLines(fb.Unnumbered(), lineRecords),
		Indexed:    indexed,
		Omissions:  omitted,
	}
}
