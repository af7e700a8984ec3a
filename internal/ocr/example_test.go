package ocr_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"grader/internal/ocr"
)

// Example recognises the words of a photographed worksheet with Cloud Vision.
func Example() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Credentials are read from GOOGLE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS.
	service, err := ocr.NewService(ctx, ocr.Options{Provider: ocr.ProviderVision})
	if err != nil {
		log.Fatalf("Failed to create OCR service: %v", err)
	}
	defer service.Close()

	image, err := os.Open("worksheet.png")
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}
	defer image.Close()

	result, err := service.RecognizeImage(ctx, image)
	if err != nil {
		log.Fatalf("OCR failed: %v", err)
	}

	for _, tok := range result.Tokens {
		e := tok.Bounds.Extent()
		fmt.Printf("%s at (%.0f,%.0f)\n", tok.Text, e.MinX, e.MinY)
	}
}

// ExampleParseHOCR reads word boxes from Tesseract hOCR output.
func ExampleParseHOCR() {
	page := `<div class="ocr_page">
  <span class="ocrx_word" title="bbox 10 10 30 30; x_wconf 91">2x</span>
  <span class="ocrx_word" title="bbox 35 12 45 28; x_wconf 88">+</span>
  <span class="ocrx_word" title="bbox 48 10 58 30; x_wconf 95">3</span>
</div>`

	tokens, err := ocr.ParseHOCR([]byte(page))
	if err != nil {
		log.Fatal(err)
	}
	for _, tok := range tokens {
		e := tok.Bounds.Extent()
		fmt.Printf("%s %.0f-%.0f\n", tok.Text, e.MinX, e.MaxX)
	}
	// Output:
	// 2x 10-30
	// + 35-45
	// 3 48-58
}
