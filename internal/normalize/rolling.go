// Package normalize implements the per (channel, frequency) running
// mean/variance normalizer of spec.md §4.5, using Welford's algorithm,
// folded incrementally one Powers update at a time, matching the
// streaming requirement of C5. gonum/stat is used only by BatchMeanStd.
package normalize

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/elemem-bci/elemem/internal/domain"
)

// cell holds Welford's running (count, mean, M2) for one (channel,
// frequency) pair.
type cell struct {
	count int64
	mean  float64
	m2    float64
}

// update folds a single new observation into the cell in place.
func (c *cell) update(x float64) {
	c.count++
	delta := x - c.mean
	c.mean += delta / float64(c.count)
	delta2 := x - c.mean
	c.m2 += delta * delta2
}

// sampleStd returns the sample standard deviation, or 0 if fewer than 2
// observations have been folded in.
func (c *cell) sampleStd() float64 {
	if c.count < 2 {
		return 0
	}
	variance := c.m2 / float64(c.count-1)
	return math.Sqrt(variance)
}

// Normalizer is C5: per (channel, frequency) running statistics,
// serialized via an internal mutex since update and zscore must be
// totally ordered relative to each other (spec.md §4.5).
type Normalizer struct {
	mu    sync.Mutex
	cells map[int]map[int]*cell // cells[channel][freqIndex]
}

// New creates an empty Normalizer.
func New() *Normalizer {
	return &Normalizer{cells: make(map[int]map[int]*cell)}
}

// Reset discards all running statistics.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cells = make(map[int]map[int]*cell)
}

func (n *Normalizer) cellFor(ch, freqIdx int) *cell {
	row, ok := n.cells[ch]
	if !ok {
		row = make(map[int]*cell)
		n.cells[ch] = row
	}
	c, ok := row[freqIdx]
	if !ok {
		c = &cell{}
		row[freqIdx] = c
	}
	return c
}

// Update folds every (frequency, channel, time) value of p into the
// corresponding running statistics.
func (n *Normalizer) Update(p *domain.Powers) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for f := range p.Data {
		for c := range p.Data[f] {
			cell := n.cellFor(c, f)
			for _, v := range p.Data[f][c] {
				cell.update(v)
			}
		}
	}
}

// Zscore returns a new Powers with each cell replaced by
// (x-mean)/sample_std. If a (channel, frequency) pair has fewer than 2
// observations or a zero sample standard deviation, its output is 0. If
// ignoreInfAndNaN, any non-finite result is also replaced with 0.
func (n *Normalizer) Zscore(p *domain.Powers, ignoreInfAndNaN bool) *domain.Powers {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := p.Clone()
	for f := range out.Data {
		for c := range out.Data[f] {
			cell := n.cellFor(c, f)
			std := cell.sampleStd()
			for t, v := range out.Data[f][c] {
				var z float64
				if cell.count < 2 || std == 0 {
					z = 0
				} else {
					z = (v - cell.mean) / std
				}
				if ignoreInfAndNaN && (math.IsInf(z, 0) || math.IsNaN(z)) {
					z = 0
				}
				out.Data[f][c][t] = z
			}
		}
	}
	return out
}

// BatchMeanStd is a convenience used by tests: the batch mean and
// sample standard deviation of a
// float64 slice, computed with gonum/stat rather than hand-rolled
// arithmetic.
func BatchMeanStd(xs []float64) (mean, std float64) {
	mean, variance := stat.MeanVariance(xs, nil)
	return mean, math.Sqrt(variance)
}
