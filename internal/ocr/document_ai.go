package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"grader/internal/logger"
	"grader/pkg/models"
)

// DocumentAIConfig configures the Document AI OCR processor.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIOCRService implements OCRService with a Document AI OCR processor.
type DocumentAIOCRService struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIOCRService creates the processor client using a regional endpoint.
// Credentials come from GOOGLE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS.
func NewDocumentAIOCRService(ctx context.Context, config DocumentAIConfig) (OCRService, error) {
	const op = "NewDocumentAIOCRService"

	if config.ProjectID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	clientOptions = append(clientOptions, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)))

	hasCredentials := false
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
		hasCredentials = true
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
		hasCredentials = true
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if !hasCredentials {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIOCRService{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// Name returns the provider name.
func (p *DocumentAIOCRService) Name() string {
	return ProviderDocumentAI
}

// RecognizeImage sends the image to the OCR processor and collects its page tokens.
func (p *DocumentAIOCRService) RecognizeImage(ctx context.Context, image io.Reader) (*OCRResult, error) {
	const op = "RecognizeImage"
	startTime := time.Now()

	data, mimeType, err := readImage(op, image)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, p.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}

	result, err := tokensFromDocument(resp.GetDocument())
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to extract tokens")
	}

	if raw, err := protojson.Marshal(resp.GetDocument()); err == nil {
		result.Raw = raw
	} else {
		p.log.Warn().Err(err).Msg("Failed to encode raw Document AI response")
	}

	result.Provider = p.Name()
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	p.log.Debug().
		Int("tokens", len(result.Tokens)).
		Int("pages", result.PageCount).
		Dur("duration", result.ProcessingDuration).
		Msg("Document AI OCR completed")

	return result, nil
}

func (p *DocumentAIOCRService) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

func (p *DocumentAIOCRService) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapOCRError(op, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapOCRError(op, ErrInvalidConfiguration, fmt.Sprintf("processor not found: %s", p.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapOCRError(op, ErrInvalidImage, "image format not supported or corrupted")
	case strings.Contains(errStr, "context deadline exceeded"):
		return WrapOCRError(op, context.DeadlineExceeded, "processing timeout")
	case strings.Contains(errStr, "context canceled"):
		return WrapOCRError(op, context.Canceled, "processing was canceled")
	default:
		return WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// tokensFromDocument reads one token per Document AI page token. Pixel vertices are
// used when present, otherwise normalized vertices are scaled by the page dimension.
// A token with neither is an error.
func tokensFromDocument(doc *documentaipb.Document) (*OCRResult, error) {
	fullText := []rune(doc.GetText())

	var tokens []models.WordToken
	for _, page := range doc.GetPages() {
		for _, tok := range page.GetTokens() {
			layout := tok.GetLayout()
			text := strings.TrimSpace(textFromAnchor(layout.GetTextAnchor(), fullText))
			if text == "" {
				continue
			}
			bounds := boundsFromLayout(layout, page.GetDimension())
			if bounds == nil {
				return nil, WrapOCRError("tokensFromDocument", models.ErrMalformedBounds,
					fmt.Sprintf("token %q on page %d has no bounding vertices", text, page.GetPageNumber()))
			}
			tokens = append(tokens, models.WordToken{
				Text:       text,
				Bounds:     bounds,
				Confidence: layout.GetConfidence(),
			})
		}
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyDocument
	}

	return &OCRResult{
		Tokens:     tokens,
		Text:       doc.GetText(),
		PageCount:  len(doc.GetPages()),
		Confidence: averageConfidence(tokens),
	}, nil
}

func textFromAnchor(anchor *documentaipb.Document_TextAnchor, fullText []rune) string {
	var b strings.Builder
	total := len(fullText)
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if end > total {
			end = total
		}
		if start < 0 {
			start = 0
		}
		if start > end {
			start = end
		}
		b.WriteString(string(fullText[start:end]))
	}
	return b.String()
}

func boundsFromLayout(layout *documentaipb.Document_Page_Layout, dim *documentaipb.Document_Page_Dimension) models.Quad {
	poly := layout.GetBoundingPoly()

	var points []models.Point
	if vertices := poly.GetVertices(); len(vertices) > 0 {
		for _, v := range vertices {
			points = append(points, models.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
		}
	} else if dim != nil {
		w, h := float64(dim.GetWidth()), float64(dim.GetHeight())
		for _, v := range poly.GetNormalizedVertices() {
			points = append(points, models.Point{X: float64(v.GetX()) * w, Y: float64(v.GetY()) * h})
		}
	}
	return quadFromPoints(points)
}

// Close closes the underlying Document AI client.
func (p *DocumentAIOCRService) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
