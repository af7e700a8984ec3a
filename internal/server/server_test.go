package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"grader/internal/grading"
	"grader/internal/ocr"
	"grader/pkg/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeGrader struct {
	result    *models.GradeResult
	err       error
	gotID     string
	gotUpload string
}

func (f *fakeGrader) GradeImage(ctx context.Context, requestID string, image io.Reader) (*models.GradeResult, error) {
	data, _ := io.ReadAll(image)
	f.gotID = requestID
	f.gotUpload = string(data)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.RequestID = requestID
	return &res, nil
}

func uploadRequest(t *testing.T, field, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "work.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/solve/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func sampleResult() *models.GradeResult {
	line := "2x + 3"
	return &models.GradeResult{
		Question: "2x + 3\n= 5",
		Answer:   "2x + 3 = 5",
		Lines: []models.LineRecord{
			{Text: "2x + 3", Bounds: models.QuadFromExtent(10, 10, 58, 30), WordCount: 3},
		},
		Alignments: []models.AlignmentRecord{
			{SourceLine: "2x + 3 = 5", MatchedLine: &line, Bounds: models.QuadFromExtent(10, 10, 58, 30), Score: 0.75, Pass: "close_match"},
			{SourceLine: "unrelated commentary"},
		},
		IndexedAlignments: []models.IndexedAlignment{},
		RawOCR:            json.RawMessage(`{"text":"2x + 3"}`),
	}
}

func TestSolve_Success(t *testing.T) {
	fg := &fakeGrader{result: sampleResult()}
	h := New(fg, Config{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "file", "PNGDATA"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if fg.gotUpload != "PNGDATA" {
		t.Errorf("grader saw %q", fg.gotUpload)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"question", "answer", "raw_ocr", "lines", "alignments", "indexed_alignments", "request_id"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}

	var alignments []map[string]interface{}
	_ = json.Unmarshal(body["alignments"], &alignments)
	if alignments[1]["matched_line"] != nil || alignments[1]["bounds"] != nil {
		t.Errorf("absent alignment should serialise nulls: %v", alignments[1])
	}

	if id := rec.Header().Get("X-Request-ID"); id == "" || id != fg.gotID {
		t.Errorf("request ID header %q, grader saw %q", id, fg.gotID)
	}
}

func TestSolve_HonoursRequestIDHeader(t *testing.T) {
	fg := &fakeGrader{result: sampleResult()}
	req := uploadRequest(t, "file", "x")
	req.Header.Set("X-Request-ID", "6f1c1b8e-8a55-4b6a-9a0e-0d7b8f1f1a2b")

	rec := httptest.NewRecorder()
	New(fg, Config{}).Handler().ServeHTTP(rec, req)

	if fg.gotID != "6f1c1b8e-8a55-4b6a-9a0e-0d7b8f1f1a2b" {
		t.Errorf("request ID = %q", fg.gotID)
	}
}

func TestSolve_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		field  string
		status int
	}{
		{"grader failure", grading.ErrGradingFailed, "file", http.StatusInternalServerError},
		{"invalid image", ocr.WrapOCRError("RecognizeImage", ocr.ErrInvalidImage, ""), "file", http.StatusBadRequest},
		{"no text", ocr.ErrEmptyDocument, "file", http.StatusUnprocessableEntity},
		{"missing field", nil, "upload", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := &fakeGrader{result: sampleResult(), err: tt.err}
			rec := httptest.NewRecorder()
			New(fg, Config{}).Handler().ServeHTTP(rec, uploadRequest(t, tt.field, "x"))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected error body, got %s", rec.Body)
			}
		})
	}
}

func TestSolve_UploadTooLarge(t *testing.T) {
	fg := &fakeGrader{result: sampleResult()}
	rec := httptest.NewRecorder()
	New(fg, Config{MaxUploadBytes: 10}).Handler().ServeHTTP(rec, uploadRequest(t, "file", strings.Repeat("x", 100)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
	if fg.gotUpload != "" {
		t.Error("grader should not be called")
	}
}

func TestSolve_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&fakeGrader{}, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/solve/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&fakeGrader{}, Config{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestCORS(t *testing.T) {
	h := New(&fakeGrader{}, Config{CORSOrigins: []string{"http://localhost:3000"}}).Handler()

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/solve/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
			rec.Header().Get("Access-Control-Allow-Credentials") != "true" ||
			rec.Header().Get("Access-Control-Allow-Headers") != "content-type" {
			t.Errorf("headers = %v", rec.Header())
		}
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("disallowed origin should get no CORS headers")
		}
	})
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(ocr.WrapOCRError("x", ocr.ErrImageTooLarge, "")); got != http.StatusRequestEntityTooLarge {
		t.Errorf("too large = %d", got)
	}
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("generic = %d", got)
	}
}
