// Package lines rebuilds reading-order text lines from an unordered set of OCR word boxes.
//
// Grouping is greedy and single-pass: tokens are visited top-to-bottom, left-to-right and
// each one joins the first open line whose running mean vertical center is within
// YThreshold and whose horizontal extent it does not overshoot by more than XThreshold.
// The result is deterministic for a given input order and safe to compute concurrently.
package lines

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"grader/pkg/models"
)

const (
	// DefaultYThreshold is the maximum vertical center distance between a token and a line mean.
	DefaultYThreshold = 15.0

	// DefaultXThreshold is how far beyond a line's horizontal extent a token center may lie.
	DefaultXThreshold = 100.0
)

// ErrInvalidThreshold is returned for non-positive grouping thresholds.
var ErrInvalidThreshold = errors.New("grouping thresholds must be positive")

// Config controls line grouping.
type Config struct {
	YThreshold float64
	XThreshold float64

	// SortByMeanY re-orders the emitted lines by their final mean vertical center.
	// Off by default: lines are emitted in creation order, which can misplace a line
	// whose first token was much taller than the rest.
	SortByMeanY bool
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		YThreshold: DefaultYThreshold,
		XThreshold: DefaultXThreshold,
	}
}

// GroupIntoLines groups tokens into lines using the given thresholds.
func GroupIntoLines(tokens []models.WordToken, yThreshold, xThreshold float64) ([]models.LineRecord, error) {
	return Group(tokens, Config{YThreshold: yThreshold, XThreshold: xThreshold})
}

type placedToken struct {
	token  models.WordToken
	extent models.Extent
}

type lineAccumulator struct {
	members []placedToken
	sumY    float64
	extent  models.Extent
}

func (l *lineAccumulator) meanY() float64 {
	return l.sumY / float64(len(l.members))
}

func (l *lineAccumulator) add(p placedToken) {
	if len(l.members) == 0 {
		l.extent = p.extent
	} else {
		l.extent = l.extent.Union(p.extent)
	}
	l.members = append(l.members, p)
	l.sumY += p.extent.CenterY()
}

func (l *lineAccumulator) accepts(p placedToken, cfg Config) bool {
	if math.Abs(p.extent.CenterY()-l.meanY()) >= cfg.YThreshold {
		return false
	}
	cx := p.extent.CenterX()
	tooFarLeft := cx < l.extent.MinX-cfg.XThreshold
	tooFarRight := cx > l.extent.MaxX+cfg.XThreshold
	return !tooFarLeft && !tooFarRight
}

// Group groups tokens into lines. Every token ends up in exactly one line; a token
// whose bounds do not have four corners fails the whole call.
func Group(tokens []models.WordToken, cfg Config) ([]models.LineRecord, error) {
	if cfg.YThreshold <= 0 || cfg.XThreshold <= 0 {
		return nil, fmt.Errorf("%w: y=%v x=%v", ErrInvalidThreshold, cfg.YThreshold, cfg.XThreshold)
	}
	if len(tokens) == 0 {
		return []models.LineRecord{}, nil
	}

	placed := make([]placedToken, len(tokens))
	for i, tok := range tokens {
		if err := tok.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("token %d (%q): %w", i, tok.Text, err)
		}
		placed[i] = placedToken{token: tok, extent: tok.Bounds.Extent()}
	}

	sort.SliceStable(placed, func(i, j int) bool {
		yi, yj := placed[i].extent.CenterY(), placed[j].extent.CenterY()
		if yi != yj {
			return yi < yj
		}
		return placed[i].extent.CenterX() < placed[j].extent.CenterX()
	})

	var open []*lineAccumulator
	for _, p := range placed {
		var target *lineAccumulator
		for _, l := range open {
			if l.accepts(p, cfg) {
				target = l
				break
			}
		}
		if target == nil {
			target = &lineAccumulator{}
			open = append(open, target)
		}
		target.add(p)
	}

	if cfg.SortByMeanY {
		sort.SliceStable(open, func(i, j int) bool {
			return open[i].meanY() < open[j].meanY()
		})
	}

	records := make([]models.LineRecord, 0, len(open))
	for _, l := range open {
		records = append(records, l.record())
	}
	return records, nil
}

func (l *lineAccumulator) record() models.LineRecord {
	members := make([]placedToken, len(l.members))
	copy(members, l.members)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].extent.MinX < members[j].extent.MinX
	})

	words := make([]string, len(members))
	for i, m := range members {
		words[i] = m.token.Text
	}

	return models.LineRecord{
		Text:      strings.Join(words, " "),
		Bounds:    l.extent.Quad(),
		WordCount: len(members),
	}
}
