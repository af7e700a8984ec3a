package ocr

import (
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrImageTooLarge is returned when the image exceeds MaxImageSizeBytes.
	ErrImageTooLarge = errors.New("image size exceeds the maximum limit (20MB)")

	// ErrInvalidImage is returned when the data is empty or not a recognised image format.
	ErrInvalidImage = errors.New("invalid or unsupported image")

	// ErrOCRFailed is returned when the provider fails to process the image.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrMissingCredentials is returned when no Google Cloud credentials can be found.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrEmptyDocument is returned when the image contains no readable words.
	ErrEmptyDocument = errors.New("image contains no readable text")

	// ErrInvalidConfiguration is returned when a provider is missing required settings.
	ErrInvalidConfiguration = errors.New("invalid OCR provider configuration")

	// ErrTesseractNotEnabled is returned by the tesseract provider in builds without the "ocr" tag.
	ErrTesseractNotEnabled = errors.New("tesseract support not compiled in: rebuild with -tags ocr")

	// ErrUnknownProvider is returned by NewService for an unrecognised provider name.
	ErrUnknownProvider = errors.New("unknown OCR provider")
)

// OCRError wraps errors with the operation that failed.
type OCRError struct {
	// Op is the operation that failed (e.g., "RecognizeImage", "NewService").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

// WrapOCRError wraps err as an OCRError unless it already is one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return &OCRError{Op: op, Err: err, Details: details}
}
