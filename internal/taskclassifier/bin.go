package taskclassifier

import (
	"fmt"

	"github.com/elemem-bci/elemem/internal/domain"
)

// binFrame down-samples a raw window to binnedRateHz by averaging
// consecutive sub-windows, per spec.md §4.7 ("binned to
// binned_sampling_rate; only integer ratios supported, sub-windows
// averaged"). A binnedRate of 0 or equal to the frame's native rate is a
// no-op cast to DoubleFrame.
func binFrame(frame *domain.RawFrame, binnedRateHz uint32) (*domain.DoubleFrame, error) {
	if binnedRateHz == 0 || float64(binnedRateHz) == frame.SampleRateHz {
		return toDoubleFrame(frame), nil
	}
	if float64(binnedRateHz) > frame.SampleRateHz {
		return nil, domain.NewBoundsError("taskclassifier", fmt.Sprintf("binned rate %d exceeds native rate %v", binnedRateHz, frame.SampleRateHz))
	}

	ratioF := frame.SampleRateHz / float64(binnedRateHz)
	ratio := int(ratioF)
	if float64(ratio) != ratioF {
		return nil, domain.NewBoundsError("taskclassifier", fmt.Sprintf("native rate %v is not an integer multiple of binned rate %d", frame.SampleRateHz, binnedRateHz))
	}

	out := &domain.DoubleFrame{
		SampleRateHz: float64(binnedRateHz),
		Channels:     make(map[uint8][]float64, len(frame.Channels)),
	}

	for ch, samples := range frame.Channels {
		n := len(samples) / ratio
		binned := make([]float64, n)
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < ratio; j++ {
				sum += float64(samples[i*ratio+j])
			}
			binned[i] = sum / float64(ratio)
		}
		out.Channels[ch] = binned
	}

	return out, nil
}

// toDoubleFrame mirrors features.toDoubleFrame (unexported there), a
// lossless int16 -> float64 cast with no further transform.
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
