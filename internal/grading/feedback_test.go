package grading

import (
	"reflect"
	"testing"

	"grader/pkg/models"
)

func TestParseFeedback_Structured(t *testing.T) {
	content := "```json\n" + `{
  "method_marks": [
    {"line_number": 1, "text": "Correct setup"},
    "Good use of inverse operations",
    {"line_number": "2", "text": "Subtraction error"},
    {"text": ""},
    42
  ],
  "answer_mark": {"line_number": 3, "text": "Final answer should be x = 1"},
  "feedback": "Nearly there"
}` + "\n```"

	fb := ParseFeedback(content)
	if !fb.Structured {
		t.Fatal("expected structured feedback")
	}
	if fb.Summary != "Nearly there" {
		t.Errorf("summary = %q", fb.Summary)
	}
	if len(fb.Marks) != 4 {
		t.Fatalf("expected 4 marks, got %d: %+v", len(fb.Marks), fb.Marks)
	}

	wantTypes := []models.MarkType{models.MethodMark, models.MethodMark, models.MethodMark, models.AnswerMark}
	for i, m := range fb.Marks {
		if m.Type != wantTypes[i] {
			t.Errorf("mark %d type = %q, want %q", i, m.Type, wantTypes[i])
		}
	}
	if fb.Marks[1].LineNumber != nil {
		t.Errorf("string mark should have no line number")
	}
	if fb.Marks[2].LineNumber == nil || *fb.Marks[2].LineNumber != 2 {
		t.Errorf("numeric string line number not parsed: %+v", fb.Marks[2])
	}

	if got := len(fb.Numbered()); got != 3 {
		t.Errorf("numbered = %d, want 3", got)
	}
	if got := fb.Unnumbered(); !reflect.DeepEqual(got, []string{"Good use of inverse operations"}) {
		t.Errorf("unnumbered = %q", got)
	}
}

func TestParseFeedback_AnswerMarkString(t *testing.T) {
	fb := ParseFeedback(`{"answer_mark": "x = 1 is correct"}`)
	if !fb.Structured || len(fb.Marks) != 1 {
		t.Fatalf("unexpected feedback: %+v", fb)
	}
	if fb.Marks[0].Type != models.AnswerMark || fb.Marks[0].Text != "x = 1 is correct" {
		t.Errorf("mark = %+v", fb.Marks[0])
	}
}

func TestParseFeedback_FreeText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "prose",
			content: "2x + 3 = 5\n\n  so 2x = 2  \nx = 1",
			want:    []string{"2x + 3 = 5", "so 2x = 2", "x = 1"},
		},
		{
			name:    "json without marks",
			content: `{"score": 3}`,
			want:    []string{`{"score": 3}`},
		},
		{
			name:    "blank",
			content: "  \n ",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := ParseFeedback(tt.content)
			if fb.Structured {
				t.Fatal("expected free text")
			}
			if !reflect.DeepEqual(fb.Fragments, tt.want) {
				t.Errorf("fragments = %q, want %q", fb.Fragments, tt.want)
			}
		})
	}
}

func TestGetInt(t *testing.T) {
	m := map[string]interface{}{"a": 3.0, "b": "7", "c": 2.5, "d": "x", "e": true}
	if n, ok := getInt(m, "a"); !ok || n != 3 {
		t.Errorf("a = %d %v", n, ok)
	}
	if n, ok := getInt(m, "b"); !ok || n != 7 {
		t.Errorf("b = %d %v", n, ok)
	}
	for _, k := range []string{"c", "d", "e", "missing"} {
		if _, ok := getInt(m, k); ok {
			t.Errorf("%s should not parse", k)
		}
	}
}
