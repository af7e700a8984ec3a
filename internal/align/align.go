// Package align anchors grader-produced text fragments to OCR lines.
//
// Each fragment runs through three passes, cheapest and most precise first:
//
//  1. substring: the first candidate containing the fragment verbatim
//  2. close match: the best candidate whose sequence-matcher ratio reaches the threshold
//  3. similarity: the best case-insensitive ratio, accepted only above the threshold
//
// A fragment that clears none of them has no match. Absence is a normal outcome.
package align

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"grader/internal/logger"
	"grader/pkg/models"
)

// DefaultThreshold is the default acceptance threshold for approximate passes.
const DefaultThreshold = 0.6

// ErrInvalidThreshold is returned when the threshold is outside [0, 1].
var ErrInvalidThreshold = errors.New("match threshold must be within [0, 1]")

// Pass identifies the matching pass that produced a match.
type Pass string

const (
	PassNone       Pass = ""
	PassSubstring  Pass = "substring"
	PassCloseMatch Pass = "close_match"
	PassSimilarity Pass = "similarity"
)

// Match is the outcome of aligning one fragment. Index is -1 when nothing matched.
type Match struct {
	Fragment string
	Index    int
	Line     string
	Score    float64
	Pass     Pass
}

// Found reports whether the fragment was matched to a candidate.
func (m Match) Found() bool {
	return m.Index >= 0
}

// Aligner matches fragments against candidate lines.
type Aligner struct {
	threshold float64
	log       zerolog.Logger
}

// NewAligner creates an aligner with the given acceptance threshold.
func NewAligner(threshold float64) (*Aligner, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return &Aligner{
		threshold: threshold,
		log:       logger.WithComponent("align"),
	}, nil
}

// Align matches each non-blank fragment against candidates.
func Align(fragments, candidates []string, threshold float64) ([]Match, error) {
	a, err := NewAligner(threshold)
	if err != nil {
		return nil, err
	}
	return a.Align(fragments, candidates), nil
}

// Threshold returns the acceptance threshold.
func (a *Aligner) Threshold() float64 {
	return a.threshold
}

// Align matches each non-blank fragment against candidates. Blank fragments produce no entry.
func (a *Aligner) Align(fragments, candidates []string) []Match {
	matches := make([]Match, 0, len(fragments))
	for _, f := range fragments {
		trimmed := strings.TrimSpace(f)
		if trimmed == "" {
			continue
		}
		m := a.match(trimmed, candidates)
		a.log.Debug().
			Str("fragment", trimmed).
			Int("index", m.Index).
			Str("pass", string(m.Pass)).
			Float64("score", m.Score).
			Msg("Aligned fragment")
		matches = append(matches, m)
	}
	return matches
}

// AlignLines matches fragments against reconstructed lines and carries the matched line's bounds.
func (a *Aligner) AlignLines(fragments []string, lines []models.LineRecord) []models.AlignmentRecord {
	matches := a.Align(fragments, models.LineTexts(lines))
	records := make([]models.AlignmentRecord, 0, len(matches))
	for _, m := range matches {
		rec := models.AlignmentRecord{SourceLine: m.Fragment}
		if m.Found() {
			text := lines[m.Index].Text
			rec.MatchedLine = &text
			rec.Bounds = lines[m.Index].Bounds
			rec.Score = m.Score
			rec.Pass = string(m.Pass)
		}
		records = append(records, rec)
	}
	return records
}

func (a *Aligner) match(fragment string, candidates []string) Match {
	for i, c := range candidates {
		if strings.Contains(c, fragment) {
			return Match{Fragment: fragment, Index: i, Line: c, Score: 1, Pass: PassSubstring}
		}
	}

	if i, score, ok := closeMatch(fragment, candidates, a.threshold); ok {
		return Match{Fragment: fragment, Index: i, Line: candidates[i], Score: score, Pass: PassCloseMatch}
	}

	if i, score, ok := bestSimilarity(fragment, candidates, a.threshold); ok {
		return Match{Fragment: fragment, Index: i, Line: candidates[i], Score: score, Pass: PassSimilarity}
	}

	return Match{Fragment: fragment, Index: -1}
}

// closeMatch picks the single best candidate whose ratio is at least cutoff.
// Equal ratios resolve to the lexicographically greater candidate.
func closeMatch(word string, candidates []string, cutoff float64) (int, float64, bool) {
	target := chars(word)
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		sm := difflib.NewMatcher(chars(c), target)
		if sm.RealQuickRatio() < cutoff || sm.QuickRatio() < cutoff {
			continue
		}
		score := sm.Ratio()
		if score < cutoff {
			continue
		}
		if best < 0 || score > bestScore || (score == bestScore && c > candidates[best]) {
			best, bestScore = i, score
		}
	}
	return best, bestScore, best >= 0
}

// bestSimilarity compares lower-cased strings and keeps the first maximum.
func bestSimilarity(fragment string, candidates []string, threshold float64) (int, float64, bool) {
	lowered := chars(strings.ToLower(fragment))
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score := difflib.NewMatcher(lowered, chars(strings.ToLower(c))).Ratio()
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore <= threshold {
		return -1, 0, false
	}
	return best, bestScore, true
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
