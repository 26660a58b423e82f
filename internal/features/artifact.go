package features

import "github.com/elemem-bci/elemem/internal/domain"

// nthDifference computes the n-th discrete difference of values
// (repeated first differences), matching numpy.diff(x, n) semantics:
// each application shortens the sequence by one.
func nthDifference(values []float64, order int) []float64 {
	cur := values
	for i := 0; i < order; i++ {
		if len(cur) < 2 {
			return nil
		}
		next := make([]float64, len(cur)-1)
		for j := range next {
			next[j] = cur[j+1] - cur[j]
		}
		cur = next
	}
	return cur
}

// detectArtifacts implements spec.md §4.4 step 7's detection half: on
// the pre-Morlet bipolar signal, compute the n-th discrete difference
// (default order=10) per channel, count time points equal to exactly
// zero, and mark any channel whose count exceeds threshold (default 10)
// or which has no samples. Requires order < L and threshold < L-order.
func detectArtifacts(bipolar *domain.DoubleFrame, order, threshold int) (map[uint8]bool, error) {
	marked := make(map[uint8]bool, len(bipolar.Channels))

	for ch, values := range bipolar.Channels {
		l := len(values)
		if l == 0 {
			marked[ch] = true
			continue
		}
		if order >= l {
			return nil, domain.NewBoundsError("features", "artifact order must be < channel length")
		}
		if threshold >= l-order {
			return nil, domain.NewBoundsError("features", "artifact threshold must be < length-order")
		}

		diff := nthDifference(values, order)
		zeroCount := 0
		for _, d := range diff {
			if d == 0 {
				zeroCount++
			}
		}
		marked[ch] = zeroCount > threshold
	}

	return marked, nil
}
