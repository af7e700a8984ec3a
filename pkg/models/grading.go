package models

import (
	"encoding/json"
	"time"
)

// MarkType tags a grading remark by its role in the feedback
type MarkType string

const (
	MethodMark MarkType = "method_mark"
	AnswerMark MarkType = "answer_mark"
)

// Mark is a single remark produced by the grader
type Mark struct {
	Type       MarkType `json:"type"`
	LineNumber *int     `json:"line_number,omitempty"` // 1-based OCR line reference, if the grader gave one
	Text       string   `json:"text"`
}

// AlignmentRecord anchors one grader fragment to an OCR line. MatchedLine and Bounds
// are nil when no candidate line cleared the threshold.
type AlignmentRecord struct {
	SourceLine  string  `json:"source_line"`     // Fragment as produced by the grader
	MatchedLine *string `json:"matched_line"`    // Matched OCR line text, null when absent
	Bounds      Quad    `json:"bounds"`          // Matched line bounds, null when absent
	Score       float64 `json:"score,omitempty"` // Similarity of the accepted match
	Pass        string  `json:"pass,omitempty"`  // Matching pass that produced the match
}

// Matched reports whether a line was found for the fragment.
func (a AlignmentRecord) Matched() bool {
	return a.MatchedLine != nil
}

// IndexedAlignment is a remark the grader attached to an explicit OCR line number
type IndexedAlignment struct {
	Type       MarkType `json:"type"`        // method_mark or answer_mark
	LineNumber int      `json:"line_number"` // 1-based line number as shown to the grader
	Text       string   `json:"text"`        // Remark text
	Bounds     Quad     `json:"bounds"`      // Bounds of the referenced line
}

// Omission records a structured remark whose line reference could not be resolved
type Omission struct {
	Type       MarkType `json:"type"`
	LineNumber int      `json:"line_number"`
	Text       string   `json:"text"`
	Reason     string   `json:"reason"`
}

// GradeResult is the complete outcome of grading one image
type GradeResult struct {
	RequestID          string             `json:"request_id"`
	Question           string             `json:"question"`            // Full OCR text
	Answer             string             `json:"answer"`              // Raw grader response
	Lines              []LineRecord       `json:"lines"`               // Reconstructed OCR lines
	Alignments         []AlignmentRecord  `json:"alignments"`          // Fuzzy-aligned fragments
	IndexedAlignments  []IndexedAlignment `json:"indexed_alignments"`  // Remarks with explicit line numbers
	Omissions          []Omission         `json:"omissions,omitempty"` // Unresolvable line references
	Provider           string             `json:"ocr_provider"`
	RawOCR             json.RawMessage    `json:"raw_ocr,omitempty"`
	ProcessedAt        time.Time          `json:"processed_at"`
	ProcessingDuration string             `json:"processing_duration"`
}
