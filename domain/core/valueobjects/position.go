package valueobjects

import (
	"errors"
	"math"
)

// Position is a point on the diagram canvas.
type Position struct {
	X float64
	Y float64
}

// NewPosition creates a Position, rejecting NaN and infinite coordinates
func NewPosition(x, y float64) (Position, error) {
	p := Position{X: x, Y: y}
	if !p.IsFinite() {
		return Position{}, errors.New("position coordinates must be finite")
	}
	return p, nil
}

// IsFinite reports whether both coordinates are real numbers
func (p Position) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Equals checks if two positions are equal
func (p Position) Equals(other Position) bool {
	return p.X == other.X && p.Y == other.Y
}
