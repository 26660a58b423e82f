// Package features implements C4, the per-event transform chain from a
// raw window of samples to a normalized, artifact-masked feature vector:
// bipolar re-reference, end mirroring, Morlet wavelet power spectra,
// log-transform, time average, artifact rejection, and (via
// internal/normalize) z-score normalization against a running baseline
// (spec.md §4.4).
package features

import (
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// Options configures the Pipeline. DefaultOptions returns the documented
// defaults; fields are used as set, and zero values are not replaced.
type Options struct {
	MirrorMs          float64
	Frequencies       []float64
	WidthCycles       float64
	MinPowerClamp     float64
	LogMode           LogMode
	IgnoreInfAndNaN   bool
	ArtifactOrder     int
	ArtifactThreshold int
}

// DefaultOptions returns the documented defaults from spec.md §4.4, with
// the caller-supplied frequency list.
func DefaultOptions(frequencies []float64) Options {
	return Options{
		MirrorMs:          500,
		Frequencies:       frequencies,
		WidthCycles:       5,
		MinPowerClamp:     1e-20,
		LogMode:           LogModeClamp,
		IgnoreInfAndNaN:   true,
		ArtifactOrder:     10,
		ArtifactThreshold: 10,
	}
}

// Pipeline runs the C4 transform chain for a fixed set of bipolar pairs.
type Pipeline struct {
	log   *logger.Logger
	pairs []domain.BipolarPair
	opts  Options
}

// New creates a Pipeline over the given bipolar montage and options.
func New(log *logger.Logger, pairs []domain.BipolarPair, opts Options) *Pipeline {
	return &Pipeline{log: log, pairs: pairs, opts: opts}
}

// Run executes the full transform chain on one window of raw integer
// samples (cast to float64 with no further transform), returning the
// time-averaged, artifact-masked Powers with a single sample on the
// time axis (the feature vector).
func (p *Pipeline) Run(frame *domain.RawFrame) (*domain.Powers, error) {
	return p.RunDouble(toDoubleFrame(frame))
}

// RunDouble is the same transform chain, entered with a monopolar
// DoubleFrame already in hand — used when C7's start_classification has
// binned the window to a different sampling rate before re-referencing.
func (p *Pipeline) RunDouble(frame *domain.DoubleFrame) (*domain.Powers, error) {
	bipolar, err := bipolarReference(frame, p.pairs)
	if err != nil {
		return nil, err
	}

	marked, err := detectArtifacts(bipolar, p.opts.ArtifactOrder, p.opts.ArtifactThreshold)
	if err != nil {
		return nil, err
	}

	rate := frame.SampleRateHz
	m := mirrorSampleCount(p.opts.MirrorMs, rate)

	if minSupport := p.minWaveletSupport(rate); m < minSupport {
		p.log.Warn("features: mirror width %d samples is below minimum wavelet support %d at lowest frequency", m, minSupport)
	}

	numChannels := len(p.pairs)
	var windowLen int
	powers := make([][][]float64, len(p.opts.Frequencies)) // [freq][chan][time], filled below once windowLen known

	for ch := 0; ch < numChannels; ch++ {
		signal, ok := bipolar.Channels[uint8(ch)]
		if !ok {
			return nil, domain.NewBoundsError("features", "missing bipolar channel in pipeline run")
		}

		mirrored, err := mirrorSamples(signal, m)
		if err != nil {
			return nil, err
		}

		for fi, freq := range p.opts.Frequencies {
			power := morletPower(mirrored, freq, p.opts.WidthCycles, rate)
			inner := removeMirrorEnds(power, m)

			if windowLen == 0 {
				windowLen = len(inner)
			}
			if powers[fi] == nil {
				powers[fi] = make([][]float64, numChannels)
			}
			powers[fi][ch] = logTransform(inner, p.opts.LogMode, p.opts.MinPowerClamp)
		}
	}

	out := &domain.Powers{
		SampleRateHz: rate,
		Freqs:        append([]float64(nil), p.opts.Frequencies...),
		NumChannels:  numChannels,
		Data:         make([][][]float64, len(p.opts.Frequencies)),
	}
	for fi := range out.Data {
		out.Data[fi] = make([][]float64, numChannels)
		for ch := 0; ch < numChannels; ch++ {
			avg, diagnosed := timeAverage(powers[fi][ch], p.opts.IgnoreInfAndNaN)
			if diagnosed {
				p.log.Debug("features: non-finite time average replaced with 0 (freq=%v chan=%d)", p.opts.Frequencies[fi], ch)
			}
			out.Data[fi][ch] = []float64{avg}
		}
	}

	for ch := 0; ch < numChannels; ch++ {
		if marked[uint8(ch)] {
			out.ZeroChannel(ch)
		}
	}

	return out, nil
}

// minWaveletSupport returns the largest per-frequency wavelet support in
// samples across the configured frequency set, i.e. the support at the
// lowest configured frequency (lower frequency -> wider Gaussian
// envelope -> larger support).
func (p *Pipeline) minWaveletSupport(rateHz float64) int {
	max := 0
	for _, f := range p.opts.Frequencies {
		s := waveletSupportSamples(f, p.opts.WidthCycles, rateHz)
		if s > max {
			max = s
		}
	}
	return max
}
