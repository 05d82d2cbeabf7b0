package posefactor

import (
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/spatialmath"
)

// BoundingBox is the already-extracted 3D observation a Detection is built
// from: the box's center pose and extents in the observing frame, plus
// bookkeeping metadata. It is retained on the Detection for provenance and
// never enters the factor math.
type BoundingBox struct {
	// Pose is the center pose of the box in the observing frame.
	Pose spatialmath.Pose

	// Dims holds the box extents along each axis.
	Dims r3.Vector

	// Label is the detector's class label, if any.
	Label string

	// Score is the detector's confidence for this box.
	Score float64

	// FrameID names the frame the box was observed in.
	FrameID string

	// Timestamp is when the box was observed.
	Timestamp time.Time
}

// Center returns the box's center position, or the zero vector if no pose
// was supplied.
func (b BoundingBox) Center() r3.Vector {
	if b.Pose == nil {
		return r3.Vector{}
	}
	return b.Pose.Point()
}
