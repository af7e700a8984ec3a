package grading

import (
	"encoding/json"
	"strconv"
	"strings"

	"grader/pkg/models"
)

// Feedback is the grader's answer split into alignable parts.
type Feedback struct {
	// Structured is true when the answer was the JSON mark format.
	Structured bool

	// Marks holds method and answer marks of a structured answer, in answer order.
	Marks []models.Mark

	// Fragments holds the answer's non-blank lines when it was free text.
	Fragments []string

	// Summary is the overall comment of a structured answer, if any.
	Summary string
}

// ParseFeedback reads a grader answer. JSON objects with method_marks/answer_mark
// (optionally wrapped in a markdown code fence) become marks; anything else is
// treated as free text and split into lines.
func ParseFeedback(content string) Feedback {
	cleaned := stripCodeFence(content)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil {
		if fb, ok := feedbackFromJSON(raw); ok {
			return fb
		}
	}

	return Feedback{Fragments: splitLines(content)}
}

// Numbered returns the marks that reference a line number.
func (f Feedback) Numbered() []models.Mark {
	var out []models.Mark
	for _, m := range f.Marks {
		if m.LineNumber != nil {
			out = append(out, m)
		}
	}
	return out
}

// Unnumbered returns the text of marks without a line number, for fuzzy alignment.
func (f Feedback) Unnumbered() []string {
	var out []string
	for _, m := range f.Marks {
		if m.LineNumber == nil {
			out = append(out, m.Text)
		}
	}
	return out
}

func feedbackFromJSON(raw map[string]interface{}) (Feedback, bool) {
	methods, hasMethods := raw["method_marks"]
	answer, hasAnswer := raw["answer_mark"]
	if !hasMethods && !hasAnswer {
		return Feedback{}, false
	}

	fb := Feedback{Structured: true, Summary: getString(raw, "feedback")}

	if list, ok := methods.([]interface{}); ok {
		for _, item := range list {
			if m, ok := markFromValue(models.MethodMark, item); ok {
				fb.Marks = append(fb.Marks, m)
			}
		}
	}
	if answer != nil {
		if m, ok := markFromValue(models.AnswerMark, answer); ok {
			fb.Marks = append(fb.Marks, m)
		}
	}
	return fb, true
}

// markFromValue accepts a plain string or an object with text and line_number.
func markFromValue(kind models.MarkType, v interface{}) (models.Mark, bool) {
	switch val := v.(type) {
	case string:
		text := strings.TrimSpace(val)
		if text == "" {
			return models.Mark{}, false
		}
		return models.Mark{Type: kind, Text: text}, true
	case map[string]interface{}:
		text := strings.TrimSpace(getString(val, "text"))
		if text == "" {
			text = strings.TrimSpace(getString(val, "comment"))
		}
		line, hasLine := getInt(val, "line_number")
		if text == "" && !hasLine {
			return models.Mark{}, false
		}
		m := models.Mark{Type: kind, Text: text}
		if hasLine {
			m.LineNumber = &line
		}
		return m, true
	default:
		return models.Mark{}, false
	}
}

func stripCodeFence(content string) string {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func splitLines(content string) []string {
	var out []string
	for _, l := range strings.Split(content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// getString safely extracts a string value from a map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if value, exists := m[key]; exists && value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

// getInt reads a whole number given either as a JSON number or a numeric string.
func getInt(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}
