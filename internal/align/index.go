package align

import (
	"fmt"

	"grader/pkg/models"
)

// AlignByIndex resolves marks that carry an explicit 1-based line number directly to the
// referenced line. Marks without a number or pointing outside lines are logged and
// returned as omissions; they never abort the rest of the batch.
func (a *Aligner) AlignByIndex(marks []models.Mark, lines []models.LineRecord) ([]models.IndexedAlignment, []models.Omission) {
	aligned := make([]models.IndexedAlignment, 0, len(marks))
	var omitted []models.Omission

	for _, m := range marks {
		if m.LineNumber == nil {
			omitted = append(omitted, a.omit(m, 0, "missing line number"))
			continue
		}

		n := *m.LineNumber
		if n < 1 || n > len(lines) {
			omitted = append(omitted, a.omit(m, n, fmt.Sprintf("line number out of range [1, %d]", len(lines))))
			continue
		}

		line := lines[n-1]
		aligned = append(aligned, models.IndexedAlignment{
			Type:       m.Type,
			LineNumber: n,
			Text:       m.Text,
			Bounds:     line.Bounds,
		})
	}

	return aligned, omitted
}

func (a *Aligner) omit(m models.Mark, n int, reason string) models.Omission {
	a.log.Warn().
		Str("type", string(m.Type)).
		Int("line_number", n).
		Str("text", m.Text).
		Str("reason", reason).
		Msg("Skipping mark with unresolvable line reference")

	return models.Omission{
		Type:       m.Type,
		LineNumber: n,
		Text:       m.Text,
		Reason:     reason,
	}
}
