//go:build !ocr

package ocr

// NewTesseractOCRService reports ErrTesseractNotEnabled. Rebuild with the "ocr"
// build tag, with Tesseract installed, to enable the local engine:
//
//	go build -tags ocr
func NewTesseractOCRService(language string) (OCRService, error) {
	return nil, WrapOCRError("NewTesseractOCRService", ErrTesseractNotEnabled, language)
}
