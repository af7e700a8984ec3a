package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedBounds is returned when a bounding quadrilateral does not have exactly four corners.
var ErrMalformedBounds = errors.New("malformed bounding quad")

// QuadCorners is the number of corner points in a valid bounding quad.
const QuadCorners = 4

// Point is a pixel-space coordinate. It is encoded as a two element JSON array [x, y].
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts [x, y] as well as {"x": .., "y": ..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}

	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("point must be [x, y] or {x, y}: %w", err)
	}
	p.X, p.Y = obj.X, obj.Y
	return nil
}

// Quad is a bounding quadrilateral as produced by OCR providers. It is not guaranteed to be
// axis-aligned but is treated as such wherever min/max extents are taken.
type Quad []Point

// Validate checks that the quad has exactly four corners.
func (q Quad) Validate() error {
	if len(q) != QuadCorners {
		return fmt.Errorf("%w: expected %d points, got %d", ErrMalformedBounds, QuadCorners, len(q))
	}
	return nil
}

// Extent returns the axis-aligned min/max coordinates over all corners.
func (q Quad) Extent() Extent {
	e := Extent{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
	for _, p := range q {
		e.MinX = math.Min(e.MinX, p.X)
		e.MinY = math.Min(e.MinY, p.Y)
		e.MaxX = math.Max(e.MaxX, p.X)
		e.MaxY = math.Max(e.MaxY, p.Y)
	}
	return e
}

// Extent is an axis-aligned rectangle.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// CenterX returns the horizontal midpoint.
func (e Extent) CenterX() float64 { return (e.MinX + e.MaxX) / 2 }

// CenterY returns the vertical midpoint.
func (e Extent) CenterY() float64 { return (e.MinY + e.MaxY) / 2 }

// Union returns the smallest extent enclosing both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Quad converts the extent to corners in top-left, top-right, bottom-right, bottom-left order.
func (e Extent) Quad() Quad {
	return QuadFromExtent(e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// QuadFromExtent builds an axis-aligned quad (TL, TR, BR, BL).
func QuadFromExtent(minX, minY, maxX, maxY float64) Quad {
	return Quad{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}
}
