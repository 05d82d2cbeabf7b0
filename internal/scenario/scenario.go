// Package scenario loads demo scenarios for the CLI from JSON files.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
)

// Pose describes a pose as a position plus an axis-angle rotation.
type Pose struct {
	// Position is (x, y, z).
	Position []float64 `json:"position"`
	// AxisAngle is (rx, ry, rz, theta); omit for identity rotation.
	AxisAngle []float64 `json:"axis_angle"`
}

// Detection describes one hypothesis of the mixture.
type Detection struct {
	// Center is the hypothesis mean (x, y, z) in the robot body frame.
	Center []float64 `json:"center"`
	// Sigma is the per-axis standard deviation; a single element is
	// broadcast to all axes.
	Sigma []float64 `json:"sigma"`
	// Weight is the relative prior plausibility (defaults to 1).
	Weight float64 `json:"weight"`
	// Label tags the hypothesis in log output.
	Label string `json:"label"`
}

// Scenario is a small demo graph: two robot poses, one detection variable,
// and a set of competing detection hypotheses.
type Scenario struct {
	Name               string      `json:"name"`
	Mode               string      `json:"mode"` // "tight" or "loose"
	PreviousRobotPose  Pose        `json:"previous_robot_pose"`
	RobotPose          Pose        `json:"robot_pose"`
	DetectionPoseGuess Pose        `json:"detection_pose_guess"`
	Detections         []Detection `json:"detections"`
	Iterations         int         `json:"iterations"`
}

// Load reads and decodes a scenario from a JSON file. The file is decoded
// through an untyped map so unknown fields surface as errors rather than
// being silently dropped.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}

	var s Scenario
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &s,
		TagName:     "json",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}

	applyDefaults(&s)
	return &s, nil
}

// Default returns the built-in scenario used when no file is supplied: two
// well-separated hypotheses with the initial estimates closer to the second.
func Default() *Scenario {
	s := &Scenario{
		Name:               "two-hypotheses",
		Mode:               "tight",
		PreviousRobotPose:  Pose{Position: []float64{0, 0, 0}},
		RobotPose:          Pose{Position: []float64{0.2, 0, 0}},
		DetectionPoseGuess: Pose{Position: []float64{9.2, 0, 0}},
		Detections: []Detection{
			{Center: []float64{0, 0, 0}, Sigma: []float64{0.5}, Weight: 1, Label: "near-origin"},
			{Center: []float64{10, 0, 0}, Sigma: []float64{0.5}, Weight: 1, Label: "far"},
		},
	}
	applyDefaults(s)
	return s
}

func applyDefaults(s *Scenario) {
	if s.Mode == "" {
		s.Mode = "tight"
	}
	if s.Iterations <= 0 {
		s.Iterations = 5
	}
	for i := range s.Detections {
		if s.Detections[i].Weight == 0 {
			s.Detections[i].Weight = 1
		}
	}
}
