package features

import (
	"fmt"

	"github.com/elemem-bci/elemem/internal/domain"
)

// toDoubleFrame casts a monopolar RawFrame to a DoubleFrame with no
// further transformation, the entry point used when the pipeline is
// driven directly from C2's raw samples (as opposed to a pre-binned
// DoubleFrame from C7's start_classification).
func toDoubleFrame(frame *domain.RawFrame) *domain.DoubleFrame {
	out := &domain.DoubleFrame{
		SampleRateHz: frame.SampleRateHz,
		Channels:     make(map[uint8][]float64, len(frame.Channels)),
	}
	for ch, samples := range frame.Channels {
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = float64(s)
		}
		out.Channels[ch] = values
	}
	return out
}

// bipolarReference implements spec.md §4.4 step 1: for each declared
// BipolarPair (p,n), emit channel[i] = frame[p][i] - frame[n][i]. The
// output channel order matches the order of pairs. Operates on a
// DoubleFrame so it serves both raw (cast from int16) and pre-binned
// (already float64, averaged) monopolar input.
func bipolarReference(frame *domain.DoubleFrame, pairs []domain.BipolarPair) (*domain.DoubleFrame, error) {
	out := &domain.DoubleFrame{
		SampleRateHz: frame.SampleRateHz,
		Channels:     make(map[uint8][]float64, len(pairs)),
	}

	for i, pair := range pairs {
		pos, okP := frame.Channels[pair.Pos]
		neg, okN := frame.Channels[pair.Neg]
		if !okP || !okN || len(pos) == 0 || len(neg) == 0 {
			return nil, domain.NewBoundsError("features", fmt.Sprintf("bipolar pair %d (%d,%d): missing or empty input channel", i, pair.Pos, pair.Neg))
		}
		if len(pos) != len(neg) {
			return nil, domain.NewBoundsError("features", fmt.Sprintf("bipolar pair %d (%d,%d): length mismatch %d vs %d", i, pair.Pos, pair.Neg, len(pos), len(neg)))
		}

		ch := uint8(i)
		diff := make([]float64, len(pos))
		for j := range pos {
			diff[j] = pos[j] - neg[j]
		}
		out.Channels[ch] = diff
	}

	return out, nil
}
