package features

import (
	"fmt"

	"github.com/elemem-bci/elemem/internal/domain"
)

// mirrorSamples implements spec.md §4.4 step 2: end mirroring. For a
// channel of length L, produces length L+2M:
//
//	prefix: in[M], in[M-1], ..., in[1]   (size M, skips sample 0)
//	middle: the original L samples
//	suffix: in[L-2], in[L-3], ..., in[L-1-M]  (size M, skips the last sample)
//
// Requires M < L.
func mirrorSamples(in []float64, m int) ([]float64, error) {
	l := len(in)
	if m >= l {
		return nil, domain.NewBoundsError("features", fmt.Sprintf("mirror width %d must be < signal length %d", m, l))
	}

	out := make([]float64, l+2*m)
	for i := 0; i < m; i++ {
		out[i] = in[m-i]
	}
	copy(out[m:m+l], in)
	for i := 0; i < m; i++ {
		out[m+l+i] = in[l-2-i]
	}
	return out, nil
}

// removeMirrorEnds implements spec.md §4.4 step 4: strips m samples from
// both ends of a time series of length L+2m, returning the inner L.
func removeMirrorEnds(in []float64, m int) []float64 {
	return in[m : len(in)-m]
}

// mirrorSampleCount computes M = mirror_ms * rate / 1000, rounded down to
// the nearest integer sample count.
func mirrorSampleCount(mirrorMs, rateHz float64) int {
	return int(mirrorMs * rateHz / 1000)
}
