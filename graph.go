// Package liosegmot collects the pose-graph measurement factors of the
// segmented-moving-object estimator and offers aggregate evaluation helpers.
// Iterating the estimates to convergence remains the external solver's job;
// this package only assembles per-factor errors and linearizations.
package liosegmot

import (
	"fmt"

	"go.viam.com/rdk/logging"

	posefactor "github.com/TurtleZhong/LIO-SEGMOT/pose_factor"
)

// Graph is an ordered collection of factors sharing one value container.
// Factors are immutable, so a Graph may be evaluated from multiple
// goroutines as long as the caller does not update the values concurrently.
type Graph struct {
	logger  logging.Logger
	factors []posefactor.Factor
}

// NewGraph creates an empty graph. A nil logger defaults to a named one.
func NewGraph(logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.NewLogger("liosegmot")
	}
	return &Graph{logger: logger}
}

// Add appends a factor to the graph.
func (g *Graph) Add(f posefactor.Factor) {
	g.factors = append(g.factors, f)
}

// Len returns the number of factors.
func (g *Graph) Len() int { return len(g.factors) }

// Factors returns a copy of the factor list.
func (g *Graph) Factors() []posefactor.Factor {
	return append([]posefactor.Factor(nil), g.factors...)
}

// TotalError sums every factor's error at the given estimates.
func (g *Graph) TotalError(values *posefactor.Values) (float64, error) {
	var total float64
	for i, f := range g.factors {
		e, err := f.Error(values)
		if err != nil {
			return 0, fmt.Errorf("factor %d (%s): %w", i, f.Format(nil), err)
		}
		total += e
	}
	return total, nil
}

// Linearize linearizes every factor at the given estimates, in graph order.
func (g *Graph) Linearize(values *posefactor.Values) ([]*posefactor.LinearFactor, error) {
	linear := make([]*posefactor.LinearFactor, 0, len(g.factors))
	for i, f := range g.factors {
		lf, err := f.Linearize(values)
		if err != nil {
			return nil, fmt.Errorf("factor %d (%s): %w", i, f.Format(nil), err)
		}
		linear = append(linear, lf)
	}
	return linear, nil
}

// LogSummary logs every factor's current error, and for detection factors
// the winning hypothesis index, at the given estimates.
func (g *Graph) LogSummary(values *posefactor.Values) {
	for i, f := range g.factors {
		e, err := f.Error(values)
		if err != nil {
			g.logger.Warnf("factor %d (%s): %v", i, f.Format(nil), err)
			continue
		}

		if df, ok := f.(*posefactor.DetectionFactor); ok {
			idx, energy, err := df.DetectionIndexAndErrorFromValues(values)
			if err == nil {
				g.logger.Infof("factor %d: %s error=%.6f winner=%d energy=%.6f",
					i, f.Format(nil), e, idx, energy)
				continue
			}
		}
		g.logger.Infof("factor %d: %s error=%.6f", i, f.Format(nil), e)
	}
}
