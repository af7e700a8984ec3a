package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WordToken is a single word detected by an OCR provider
type WordToken struct {
	Text       string  `json:"text"`                 // Recognized word
	Bounds     Quad    `json:"bounds"`               // Pixel-space bounding quad (4 corners)
	Confidence float32 `json:"confidence,omitempty"` // Provider confidence (0.0-1.0), if reported
}

// UnmarshalJSON accepts the object form {"text": .., "bounds": ..} and the
// pair form ["word", [[x, y], [x, y], [x, y], [x, y]]].
func (t *WordToken) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("word token pair must have 2 elements, got %d", len(pair))
		}
		if err := json.Unmarshal(pair[0], &t.Text); err != nil {
			return fmt.Errorf("word token text: %w", err)
		}
		if err := json.Unmarshal(pair[1], &t.Bounds); err != nil {
			return fmt.Errorf("word token bounds: %w", err)
		}
		return nil
	}

	type plain WordToken
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*t = WordToken(p)
	return nil
}

// LineRecord is a reconstructed line of text
type LineRecord struct {
	Text      string `json:"text"`       // Member words joined by single spaces, left to right
	Bounds    Quad   `json:"bounds"`     // Axis-aligned envelope (TL, TR, BR, BL)
	WordCount int    `json:"word_count"` // Number of member tokens
}

// LineTexts returns the text of each line in order.
func LineTexts(lines []LineRecord) []string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return texts
}
