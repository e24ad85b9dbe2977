package gesture

import (
	"errors"
	"fmt"
	"math"
)

// Zone is a screen region a drag can be released in.
type Zone string

const (
	ZoneCenter  Zone = "center"
	ZoneLeft    Zone = "left"
	ZoneRight   Zone = "right"
	ZoneArchive Zone = "archive"
)

// Point is a pointer position in screen coordinates, origin top-left.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Geometry holds the zone thresholds of a drag surface.
//
// Left and right zones are vertical strips EdgeWidth wide along the sides.
// The archive zone is an ArchiveWidth x ArchiveHeight rectangle centered on
// the bottom edge; it may overlap the side strips.
type Geometry struct {
	Width         float64 `json:"width" yaml:"width"`
	Height        float64 `json:"height" yaml:"height"`
	EdgeWidth     float64 `json:"edge_width" yaml:"edge_width"`
	ArchiveWidth  float64 `json:"archive_width" yaml:"archive_width"`
	ArchiveHeight float64 `json:"archive_height" yaml:"archive_height"`
}

// DefaultGeometry is a phone-sized portrait surface.
var DefaultGeometry = Geometry{
	Width:         390,
	Height:        844,
	EdgeWidth:     80,
	ArchiveWidth:  200,
	ArchiveHeight: 120,
}

// Validate reports inconsistent thresholds.
func (g Geometry) Validate() error {
	var errs []error
	if g.Width <= 0 || g.Height <= 0 {
		errs = append(errs, fmt.Errorf("surface %gx%g must be positive", g.Width, g.Height))
	}
	if g.EdgeWidth <= 0 || 2*g.EdgeWidth > g.Width {
		errs = append(errs, fmt.Errorf("edge width %g must be positive and at most half of width %g", g.EdgeWidth, g.Width))
	}
	if g.ArchiveWidth <= 0 || g.ArchiveWidth > g.Width {
		errs = append(errs, fmt.Errorf("archive width %g must be in (0, %g]", g.ArchiveWidth, g.Width))
	}
	if g.ArchiveHeight <= 0 || g.ArchiveHeight > g.Height {
		errs = append(errs, fmt.Errorf("archive height %g must be in (0, %g]", g.ArchiveHeight, g.Height))
	}
	return errors.Join(errs...)
}

// Classify maps p to exactly one zone. The archive rectangle is checked
// before the side strips.
func (g Geometry) Classify(p Point) Zone {
	switch {
	case g.inArchive(p):
		return ZoneArchive
	case p.X < g.EdgeWidth:
		return ZoneLeft
	case p.X > g.Width-g.EdgeWidth:
		return ZoneRight
	default:
		return ZoneCenter
	}
}

func (g Geometry) inArchive(p Point) bool {
	left := (g.Width - g.ArchiveWidth) / 2
	return p.Y >= g.Height-g.ArchiveHeight &&
		p.X >= left && p.X <= left+g.ArchiveWidth
}

// Progress returns how far p has travelled into zone, from 0 at the zone
// boundary to 1 at the screen edge. The denominators are the same
// thresholds Classify uses.
func (g Geometry) Progress(zone Zone, p Point) float64 {
	var depth, span float64
	switch zone {
	case ZoneLeft:
		depth, span = g.EdgeWidth-p.X, g.EdgeWidth
	case ZoneRight:
		depth, span = p.X-(g.Width-g.EdgeWidth), g.EdgeWidth
	case ZoneArchive:
		depth, span = p.Y-(g.Height-g.ArchiveHeight), g.ArchiveHeight
	default:
		return 0
	}
	if span <= 0 {
		return 0
	}
	return min(max(depth/span, 0), 1)
}

// Buckets is the number of progress thresholds inside a zone.
const Buckets = 4

// Bucket maps progress in [0, 1] to 1..Buckets (quarters). Progress 1 falls
// in the last bucket.
func Bucket(progress float64) int {
	b := int(progress*Buckets) + 1
	return min(max(b, 1), Buckets)
}
