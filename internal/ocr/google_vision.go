package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"grader/internal/logger"
	"grader/pkg/models"
)

// GoogleVisionOCRService implements OCRService using Google Cloud Vision API.
type GoogleVisionOCRService struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVisionOCRService creates a new OCR service with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
func NewGoogleVisionOCRService(ctx context.Context) (OCRService, error) {
	const op = "NewGoogleVisionOCRService"

	var client *vision.ImageAnnotatorClient
	var err error

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		// Application Default Credentials
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return &GoogleVisionOCRService{
		client: client,
		log:    logger.WithComponent("vision"),
	}, nil
}

// Name returns the provider name.
func (g *GoogleVisionOCRService) Name() string {
	return ProviderVision
}

// RecognizeImage runs document text detection on a single image.
func (g *GoogleVisionOCRService) RecognizeImage(ctx context.Context, image io.Reader) (*OCRResult, error) {
	const op = "RecognizeImage"
	startTime := time.Now()

	data, mimeType, err := readImage(op, image)
	if err != nil {
		return nil, err
	}

	g.log.Debug().
		Int("size", len(data)).
		Str("mime_type", mimeType).
		Msg("Sending image to Vision API")

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	imageResp := resp.Responses[0]
	if imageResp.Error != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", imageResp.Error.Message))
	}

	result, err := tokensFromVision(imageResp)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to process Vision API response")
	}

	if raw, err := protojson.Marshal(imageResp); err == nil {
		result.Raw = raw
	} else {
		g.log.Warn().Err(err).Msg("Failed to encode raw Vision response")
	}

	result.Provider = g.Name()
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	g.log.Debug().
		Int("tokens", len(result.Tokens)).
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Vision OCR completed")

	return result, nil
}

// tokensFromVision converts a Vision response into word tokens. The first text
// annotation covers the whole page and is skipped. A word without vertices is an error.
func tokensFromVision(resp *visionpb.AnnotateImageResponse) (*OCRResult, error) {
	annotations := resp.GetTextAnnotations()
	if len(annotations) < 2 {
		return nil, ErrEmptyDocument
	}

	tokens := make([]models.WordToken, 0, len(annotations)-1)
	for _, a := range annotations[1:] {
		text := strings.TrimSpace(a.GetDescription())
		if text == "" {
			continue
		}

		var points []models.Point
		for _, v := range a.GetBoundingPoly().GetVertices() {
			points = append(points, models.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
		}
		bounds := quadFromPoints(points)
		if bounds == nil {
			return nil, WrapOCRError("tokensFromVision", models.ErrMalformedBounds,
				fmt.Sprintf("word %q has no bounding vertices", text))
		}

		tokens = append(tokens, models.WordToken{
			Text:       text,
			Bounds:     bounds,
			Confidence: a.GetConfidence(),
		})
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyDocument
	}

	text := annotations[0].GetDescription()
	pageCount := 1
	var confidence float32
	if full := resp.GetFullTextAnnotation(); full != nil {
		text = full.GetText()
		if pages := full.GetPages(); len(pages) > 0 {
			pageCount = len(pages)
			var sum float32
			for _, p := range pages {
				sum += p.GetConfidence()
			}
			confidence = sum / float32(len(pages))
		}
	}
	if confidence == 0 {
		confidence = averageConfidence(tokens)
	}

	return &OCRResult{
		Tokens:     tokens,
		Text:       text,
		PageCount:  pageCount,
		Confidence: confidence,
	}, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionOCRService) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
