// Command cli runs a small demo graph: a max-mixture detection factor plus
// the two motion factors over a pair of robot poses, iterated with a fixed
// number of damped Gauss-Newton steps to show the mixture locking onto the
// right hypothesis as the estimates move.
package main

import (
	"flag"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	liosegmot "github.com/TurtleZhong/LIO-SEGMOT"
	"github.com/TurtleZhong/LIO-SEGMOT/internal/scenario"
	posefactor "github.com/TurtleZhong/LIO-SEGMOT/pose_factor"
)

const (
	previousPoseKey posefactor.Key = 1
	robotPoseKey    posefactor.Key = 2
	velocityKey     posefactor.Key = 3
	detectionKey    posefactor.Key = 4
)

// damping keeps the demo's normal equations solvable without priors on
// every variable.
const damping = 1e-4

func main() {
	scenarioPath := flag.String("scenario", "", "path to a scenario JSON file (optional)")
	iters := flag.Int("iters", 0, "override the scenario's iteration count")
	mode := flag.String("mode", "", "override the coupling mode: tight or loose")
	flag.Parse()

	logger := logging.NewLogger("liosegmot-cli")

	s := scenario.Default()
	if *scenarioPath != "" {
		loaded, err := scenario.Load(*scenarioPath)
		if err != nil {
			logger.Fatal(err)
		}
		s = loaded
	}
	if *iters > 0 {
		s.Iterations = *iters
	}
	if *mode != "" {
		s.Mode = *mode
	}

	coupling := posefactor.TightlyCoupled
	switch s.Mode {
	case "tight":
	case "loose":
		coupling = posefactor.LooselyCoupled
	default:
		logger.Fatalf("unknown mode %q; valid modes: tight, loose", s.Mode)
	}

	logger.Infof("=== Scenario: %s (mode=%s, %d hypotheses) ===", s.Name, s.Mode, len(s.Detections))

	detections := make([]posefactor.Detection, 0, len(s.Detections))
	for i, ds := range s.Detections {
		d, err := buildDetection(ds)
		if err != nil {
			logger.Fatalf("detection %d (%s): %v", i, ds.Label, err)
		}
		detections = append(detections, d)
	}

	detectionFactor, err := posefactor.NewDetectionFactor(detections, detectionKey, robotPoseKey, coupling)
	if err != nil {
		logger.Fatal(err)
	}

	motionNoise, err := posefactor.NewDiagonalNoise([]float64{0.1, 0.1, 0.1, 0.5, 0.5, 0.5})
	if err != nil {
		logger.Fatal(err)
	}
	constantVelocity, err := posefactor.NewConstantVelocityFactor(previousPoseKey, robotPoseKey, motionNoise)
	if err != nil {
		logger.Fatal(err)
	}
	stablePose, err := posefactor.NewStablePoseFactor(previousPoseKey, velocityKey, robotPoseKey, motionNoise)
	if err != nil {
		logger.Fatal(err)
	}

	graph := liosegmot.NewGraph(logger)
	graph.Add(detectionFactor)
	graph.Add(constantVelocity)
	graph.Add(stablePose)

	prev := toPose(s.PreviousRobotPose)
	robot := toPose(s.RobotPose)

	values := posefactor.NewValues()
	values.Set(previousPoseKey, prev)
	values.Set(robotPoseKey, robot)
	values.Set(velocityKey, spatialmath.PoseBetween(prev, robot))
	values.Set(detectionKey, toPose(s.DetectionPoseGuess))

	// The previous pose anchors the graph and is not updated.
	free := []posefactor.Key{robotPoseKey, velocityKey, detectionKey}

	for iter := 0; iter < s.Iterations; iter++ {
		total, err := graph.TotalError(values)
		if err != nil {
			logger.Fatal(err)
		}
		idx, energy, err := detectionFactor.DetectionIndexAndErrorFromValues(values)
		if err != nil {
			logger.Fatal(err)
		}
		logger.Infof("iter %d: total error=%.6f, winning hypothesis=%d (%s), energy=%.6f",
			iter, total, idx, s.Detections[idx].Label, energy)

		linear, err := graph.Linearize(values)
		if err != nil {
			logger.Fatal(err)
		}
		if err := applyStep(values, free, linear); err != nil {
			logger.Warnf("iter %d: %v", iter, err)
			break
		}
	}

	logger.Info("=== Final estimates ===")
	graph.LogSummary(values)
	for _, k := range []posefactor.Key{robotPoseKey, velocityKey, detectionKey} {
		pose, err := values.Pose(k)
		if err != nil {
			logger.Fatal(err)
		}
		pt := pose.Point()
		logger.Infof("  %s: position=(%.4f, %.4f, %.4f)", posefactor.DefaultKeyFormatter(k), pt.X, pt.Y, pt.Z)
	}
}

// applyStep assembles the normal equations from the linear factors, solves
// one damped Gauss-Newton step, and retracts the free variables.
func applyStep(values *posefactor.Values, free []posefactor.Key, linear []*posefactor.LinearFactor) error {
	offsets := make(map[posefactor.Key]int, len(free))
	for i, k := range free {
		offsets[k] = 6 * i
	}
	n := 6 * len(free)

	hessian := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)

	for _, lf := range linear {
		for i, ki := range lf.Keys {
			oi, ok := offsets[ki]
			if !ok {
				continue
			}
			ji := lf.Jacobians[i]

			var jtr mat.VecDense
			jtr.MulVec(ji.T(), lf.Residual)
			for r := 0; r < 6; r++ {
				rhs.SetVec(oi+r, rhs.AtVec(oi+r)+jtr.AtVec(r))
			}

			for j, kj := range lf.Keys {
				oj, ok := offsets[kj]
				if !ok {
					continue
				}
				var jtj mat.Dense
				jtj.Mul(ji.T(), lf.Jacobians[j])
				for r := 0; r < 6; r++ {
					for c := 0; c < 6; c++ {
						hessian.Set(oi+r, oj+c, hessian.At(oi+r, oj+c)+jtj.At(r, c))
					}
				}
			}
		}
	}

	for i := 0; i < n; i++ {
		hessian.Set(i, i, hessian.At(i, i)+damping)
		rhs.SetVec(i, -rhs.AtVec(i))
	}

	var delta mat.VecDense
	if err := delta.SolveVec(hessian, rhs); err != nil {
		return err
	}

	for _, k := range free {
		pose, err := values.Pose(k)
		if err != nil {
			return err
		}
		o := offsets[k]
		step := make([]float64, 6)
		for i := range step {
			step[i] = delta.AtVec(o + i)
		}
		updated, err := posefactor.Retract(pose, step)
		if err != nil {
			return err
		}
		values.Set(k, updated)
	}
	return nil
}

func buildDetection(ds scenario.Detection) (posefactor.Detection, error) {
	center := vec3(ds.Center)
	box := posefactor.BoundingBox{
		Pose:  spatialmath.NewPoseFromPoint(center),
		Dims:  r3.Vector{X: 1, Y: 1, Z: 1},
		Label: ds.Label,
		Score: 1,
	}

	switch len(ds.Sigma) {
	case 3:
		return posefactor.NewDetection(box, vec3(ds.Sigma), ds.Weight)
	case 1:
		return posefactor.NewIsotropicDetection(box, ds.Sigma[0], ds.Weight)
	default:
		return posefactor.NewIsotropicDetection(box, 0.1, ds.Weight)
	}
}

func toPose(p scenario.Pose) spatialmath.Pose {
	pt := vec3(p.Position)
	if len(p.AxisAngle) == 4 {
		return spatialmath.NewPose(pt, &spatialmath.R4AA{
			RX:    p.AxisAngle[0],
			RY:    p.AxisAngle[1],
			RZ:    p.AxisAngle[2],
			Theta: p.AxisAngle[3],
		})
	}
	return spatialmath.NewPoseFromPoint(pt)
}

func vec3(v []float64) r3.Vector {
	if len(v) != 3 {
		return r3.Vector{}
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
