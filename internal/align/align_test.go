package align

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"grader/pkg/models"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func mustAligner(t *testing.T, threshold float64) *Aligner {
	t.Helper()
	a, err := NewAligner(threshold)
	if err != nil {
		t.Fatalf("NewAligner(%v): %v", threshold, err)
	}
	return a
}

func TestAlign_Passes(t *testing.T) {
	tests := []struct {
		name       string
		fragment   string
		candidates []string
		threshold  float64
		wantIndex  int
		wantPass   Pass
		wantScore  float64
	}{
		{
			name:       "close match on combined equation",
			fragment:   "2x + 3 = 5",
			candidates: []string{"2x + 3", "= 5"},
			threshold:  0.6,
			wantIndex:  0,
			wantPass:   PassCloseMatch,
			wantScore:  0.75,
		},
		{
			name:       "substring wins over exact later candidate",
			fragment:   "x = 5",
			candidates: []string{"so we get x = 5 finally", "x = 5"},
			threshold:  0.6,
			wantIndex:  0,
			wantPass:   PassSubstring,
			wantScore:  1,
		},
		{
			name:       "fragment is trimmed before matching",
			fragment:   "   = 5\t",
			candidates: []string{"2x + 3", "2x = 5"},
			threshold:  0.6,
			wantIndex:  1,
			wantPass:   PassSubstring,
			wantScore:  1,
		},
		{
			name:       "close match ties resolve to greater candidate",
			fragment:   "a-b",
			candidates: []string{"a*b", "a+b"},
			threshold:  0.6,
			wantIndex:  1,
			wantPass:   PassCloseMatch,
			wantScore:  2.0 / 3.0,
		},
		{
			name:       "case-insensitive similarity pass",
			fragment:   "ANSWER IS 12",
			candidates: []string{"2x + 3", "answer is 12"},
			threshold:  0.6,
			wantIndex:  1,
			wantPass:   PassSimilarity,
			wantScore:  1,
		},
		{
			name:       "unrelated commentary is absent",
			fragment:   "unrelated commentary",
			candidates: []string{"2x + 3", "= 5"},
			threshold:  0.6,
			wantIndex:  -1,
			wantPass:   PassNone,
		},
		{
			name:       "similarity must strictly exceed threshold",
			fragment:   "ANSWER IS 12",
			candidates: []string{"answer is 12"},
			threshold:  1,
			wantIndex:  -1,
			wantPass:   PassNone,
		},
		{
			name:       "no candidates",
			fragment:   "2x",
			candidates: nil,
			threshold:  0.6,
			wantIndex:  -1,
			wantPass:   PassNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Align([]string{tt.fragment}, tt.candidates, tt.threshold)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 match, got %d", len(got))
			}
			m := got[0]
			if m.Index != tt.wantIndex || m.Pass != tt.wantPass {
				t.Errorf("got index=%d pass=%q, want index=%d pass=%q", m.Index, m.Pass, tt.wantIndex, tt.wantPass)
			}
			if math.Abs(m.Score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", m.Score, tt.wantScore)
			}
			if m.Found() && m.Line != tt.candidates[m.Index] {
				t.Errorf("line = %q, want %q", m.Line, tt.candidates[m.Index])
			}
		})
	}
}

func TestAlign_SkipsBlankFragments(t *testing.T) {
	got, err := Align([]string{"", "  ", "= 5", "\n"}, []string{"2x + 3", "= 5"}, 0.6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", len(got), got)
	}
	if got[0].Fragment != "= 5" || got[0].Index != 1 {
		t.Errorf("unexpected match: %+v", got[0])
	}
}

func TestAlign_PreservesFragmentOrder(t *testing.T) {
	fragments := []string{"= 5", "nothing here at all", "2x + 3"}
	got, err := Align(fragments, []string{"2x + 3", "= 5"}, 0.6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantIdx := []int{1, -1, 0}
	for i, m := range got {
		if m.Fragment != fragments[i] || m.Index != wantIdx[i] {
			t.Errorf("match %d = %+v, want fragment %q index %d", i, m, fragments[i], wantIdx[i])
		}
	}
}

func TestNewAligner_InvalidThreshold(t *testing.T) {
	for _, th := range []float64{-0.1, 1.01} {
		if _, err := NewAligner(th); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("NewAligner(%v) error = %v, want ErrInvalidThreshold", th, err)
		}
	}
	if _, err := Align([]string{"a"}, []string{"a"}, 2); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("Align with threshold 2 error = %v", err)
	}
}

func TestAligner_AlignLines(t *testing.T) {
	lines := []models.LineRecord{
		{Text: "2x + 3", Bounds: models.QuadFromExtent(10, 10, 58, 30), WordCount: 3},
		{Text: "= 5", Bounds: models.QuadFromExtent(10, 100, 45, 120), WordCount: 2},
	}

	a := mustAligner(t, DefaultThreshold)
	got := a.AlignLines([]string{"= 5", "good effort overall"}, lines)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	if !got[0].Matched() || *got[0].MatchedLine != "= 5" {
		t.Fatalf("first record should match \"= 5\": %+v", got[0])
	}
	if e := got[0].Bounds.Extent(); e.MinY != 100 || e.MaxX != 45 {
		t.Errorf("first record bounds = %+v", e)
	}
	if got[0].Pass != string(PassSubstring) {
		t.Errorf("first record pass = %q", got[0].Pass)
	}

	if got[1].Matched() || got[1].Bounds != nil {
		t.Errorf("second record should be absent: %+v", got[1])
	}
	if got[1].SourceLine != "good effort overall" {
		t.Errorf("second record source = %q", got[1].SourceLine)
	}
}

func intPtr(n int) *int { return &n }

func TestAligner_AlignByIndex(t *testing.T) {
	lines := []models.LineRecord{
		{Text: "2x + 3", Bounds: models.QuadFromExtent(10, 10, 58, 30), WordCount: 3},
		{Text: "= 5", Bounds: models.QuadFromExtent(10, 100, 45, 120), WordCount: 2},
	}
	marks := []models.Mark{
		{Type: models.MethodMark, LineNumber: intPtr(1), Text: "correct setup"},
		{Type: models.MethodMark, LineNumber: intPtr(5), Text: "phantom line"},
		{Type: models.MethodMark, Text: "no reference"},
		{Type: models.AnswerMark, LineNumber: intPtr(2), Text: "wrong answer"},
		{Type: models.MethodMark, LineNumber: intPtr(0), Text: "zero"},
	}

	a := mustAligner(t, DefaultThreshold)
	aligned, omitted := a.AlignByIndex(marks, lines)

	if len(aligned) != 2 {
		t.Fatalf("expected 2 aligned marks, got %d: %+v", len(aligned), aligned)
	}
	if aligned[0].LineNumber != 1 || aligned[0].Type != models.MethodMark || aligned[0].Text != "correct setup" {
		t.Errorf("aligned[0] = %+v", aligned[0])
	}
	if e := aligned[1].Bounds.Extent(); aligned[1].Type != models.AnswerMark || e.MinY != 100 {
		t.Errorf("aligned[1] = %+v", aligned[1])
	}

	if len(omitted) != 3 {
		t.Fatalf("expected 3 omissions, got %d: %+v", len(omitted), omitted)
	}
	if omitted[0].LineNumber != 5 || omitted[1].Reason != "missing line number" || omitted[2].LineNumber != 0 {
		t.Errorf("unexpected omissions: %+v", omitted)
	}
}
