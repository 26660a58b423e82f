// Package bayes models the Bayesian parameter search as an external
// black-box library (spec.md §9 design note: "treat as an external
// crate/library with the interface add_sample(params, value);
// get_next_sample() -> params; best() -> params"). C9 owns the call
// protocol; the numerical internals are not specified. The default
// implementation provided here is a coordinate search, started from the
// midpoint of the bounds, over gonum/stat summary statistics of observed samples, deliberately
// simple since the contract, not the optimizer, is what is normative.
package bayes

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Sample is one observed (params, value) pair.
type Sample struct {
	Params []float64
	Value  float64
}

// Optimizer is the black-box propose/observe interface C9 depends on.
type Optimizer interface {
	AddSample(params []float64, value float64)
	Next() []float64
	Best() []float64
}

// CoordinateSearch is a default Optimizer: it perturbs the best-so-far
// parameter vector one coordinate at a time, biased by the sign of
// recent value improvements, and proposes the midpoint of every
// dimension's bounds when no samples exist yet.
type CoordinateSearch struct {
	mu      sync.Mutex
	bounds  [][2]float64 // per-parameter [min,max]
	samples []Sample
	coord   int // which coordinate to perturb next
}

// NewCoordinateSearch creates an optimizer over parameters bounded by
// bounds (one [min,max] pair per dimension).
func NewCoordinateSearch(bounds [][2]float64) *CoordinateSearch {
	return &CoordinateSearch{bounds: bounds}
}

// AddSample records an observation.
func (c *CoordinateSearch) AddSample(params []float64, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, Sample{Params: append([]float64(nil), params...), Value: value})
}

// Next proposes the next parameter vector to try: the current best
// perturbed along one coordinate by a step proportional to that
// dimension's range, cycling coordinates round-robin.
func (c *CoordinateSearch) Next() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := c.bestLocked()
	if best == nil {
		return c.midpoints()
	}

	next := append([]float64(nil), best...)
	dim := c.coord % len(c.bounds)
	c.coord++

	lo, hi := c.bounds[dim][0], c.bounds[dim][1]
	step := (hi - lo) * stepFraction(len(c.samples))
	direction := improvementDirection(c.samples, dim)
	next[dim] = clamp(next[dim]+direction*step, lo, hi)
	return next
}

// Best returns the parameter vector with the best (lowest) observed
// value so far, or the bounds midpoint if no samples exist.
func (c *CoordinateSearch) Best() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.bestLocked(); b != nil {
		return b
	}
	return c.midpoints()
}

func (c *CoordinateSearch) bestLocked() []float64 {
	if len(c.samples) == 0 {
		return nil
	}
	best := c.samples[0]
	for _, s := range c.samples[1:] {
		if s.Value < best.Value {
			best = s
		}
	}
	return append([]float64(nil), best.Params...)
}

func (c *CoordinateSearch) midpoints() []float64 {
	mid := make([]float64, len(c.bounds))
	for i, b := range c.bounds {
		mid[i] = (b[0] + b[1]) / 2
	}
	return mid
}

// stepFraction shrinks the perturbation step as more samples accumulate,
// a simple annealing schedule.
func stepFraction(numSamples int) float64 {
	return 0.25 / (1 + float64(numSamples)/10)
}

// improvementDirection estimates whether increasing or decreasing
// dimension dim has historically lowered the observed value, using the
// sample correlation between that dimension's values and the outcome.
func improvementDirection(samples []Sample, dim int) float64 {
	if len(samples) < 2 {
		return 1
	}
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		if dim < len(s.Params) {
			xs[i] = s.Params[dim]
		}
		ys[i] = s.Value
	}
	corr := stat.Correlation(xs, ys, nil)
	if math.IsNaN(corr) || corr == 0 {
		return 1
	}
	// Value is a biomarker we want to move away from the "poor state"
	// direction; a negative correlation means increasing this dimension
	// lowered value, so continue increasing it.
	if corr < 0 {
		return 1
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
