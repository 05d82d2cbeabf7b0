package liosegmot

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	posefactor "github.com/TurtleZhong/LIO-SEGMOT/pose_factor"
)

const (
	prevKey  posefactor.Key = 1
	robotKey posefactor.Key = 2
	velKey   posefactor.Key = 3
	detKey   posefactor.Key = 4
)

func buildDetectionFactor(t *testing.T) *posefactor.DetectionFactor {
	t.Helper()
	box := posefactor.BoundingBox{
		Pose:      spatialmath.NewPoseFromPoint(r3.Vector{X: 5}),
		Dims:      r3.Vector{X: 4, Y: 2, Z: 1.5},
		Label:     "car",
		Score:     0.8,
		FrameID:   "map",
		Timestamp: time.Unix(1700000000, 0),
	}
	d, err := posefactor.NewIsotropicDetection(box, 0.5, 1)
	if err != nil {
		t.Fatalf("NewIsotropicDetection: %v", err)
	}
	f, err := posefactor.NewDetectionFactor([]posefactor.Detection{d}, detKey, robotKey, posefactor.TightlyCoupled)
	if err != nil {
		t.Fatalf("NewDetectionFactor: %v", err)
	}
	return f
}

func buildTestGraph(t *testing.T, logger logging.Logger) (*Graph, *posefactor.Values) {
	t.Helper()

	g := NewGraph(logger)
	g.Add(buildDetectionFactor(t))

	cv, err := posefactor.NewConstantVelocityFactor(prevKey, robotKey, nil)
	if err != nil {
		t.Fatalf("NewConstantVelocityFactor: %v", err)
	}
	g.Add(cv)

	sp, err := posefactor.NewStablePoseFactor(prevKey, velKey, robotKey, nil)
	if err != nil {
		t.Fatalf("NewStablePoseFactor: %v", err)
	}
	g.Add(sp)

	prev := spatialmath.NewZeroPose()
	robot := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})

	values := posefactor.NewValues()
	values.Set(prevKey, prev)
	values.Set(robotKey, robot)
	values.Set(velKey, spatialmath.PoseBetween(prev, robot))
	values.Set(detKey, spatialmath.NewPoseFromPoint(r3.Vector{X: 5.5}))
	return g, values
}

func TestGraphTotalErrorSums(t *testing.T) {
	g, values := buildTestGraph(t, logging.NewTestLogger(t))

	if g.Len() != 3 {
		t.Fatalf("len = %d, want 3", g.Len())
	}

	var want float64
	for _, f := range g.Factors() {
		e, err := f.Error(values)
		if err != nil {
			t.Fatalf("factor error: %v", err)
		}
		want += e
	}

	total, err := g.TotalError(values)
	if err != nil {
		t.Fatalf("TotalError: %v", err)
	}
	if math.Abs(total-want) > 1e-12 {
		t.Errorf("total = %v, want %v", total, want)
	}
}

func TestGraphLinearize(t *testing.T) {
	g, values := buildTestGraph(t, logging.NewTestLogger(t))

	linear, err := g.Linearize(values)
	if err != nil {
		t.Fatalf("Linearize: %v", err)
	}
	if len(linear) != g.Len() {
		t.Fatalf("got %d linear factors, want %d", len(linear), g.Len())
	}
	for i, lf := range linear {
		if len(lf.Jacobians) != len(lf.Keys) {
			t.Errorf("factor %d: %d jacobians for %d keys", i, len(lf.Jacobians), len(lf.Keys))
		}
		for j, jac := range lf.Jacobians {
			rows, cols := jac.Dims()
			if rows != lf.Residual.Len() || cols != 6 {
				t.Errorf("factor %d block %d: dims %dx%d, residual len %d", i, j, rows, cols, lf.Residual.Len())
			}
		}
	}
}

func TestGraphMissingValue(t *testing.T) {
	g, values := buildTestGraph(t, logging.NewTestLogger(t))

	incomplete := posefactor.NewValues()
	for _, k := range []posefactor.Key{prevKey, robotKey, velKey} {
		p, err := values.Pose(k)
		if err != nil {
			t.Fatalf("pose %d: %v", k, err)
		}
		incomplete.Set(k, p)
	}

	if _, err := g.TotalError(incomplete); !errors.Is(err, posefactor.ErrUnknownKey) {
		t.Errorf("TotalError: got %v, want ErrUnknownKey", err)
	}
	if _, err := g.Linearize(incomplete); !errors.Is(err, posefactor.ErrUnknownKey) {
		t.Errorf("Linearize: got %v, want ErrUnknownKey", err)
	}
}

func TestGraphLogSummary(t *testing.T) {
	logger := logging.NewTestLogger(t)
	g, values := buildTestGraph(t, logger)

	// Smoke test; the per-factor lines land in the test log.
	g.LogSummary(values)

	// A missing value downgrades the line to a warning instead of failing.
	g.LogSummary(posefactor.NewValues())
}

func TestGraphDefaultLogger(t *testing.T) {
	g := NewGraph(nil)
	if g.Len() != 0 {
		t.Errorf("new graph has %d factors", g.Len())
	}
	g.LogSummary(posefactor.NewValues())
}
