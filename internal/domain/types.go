// Package domain holds the data model and port interfaces shared across
// elemem's workers: the wire-level types devices and the feature pipeline
// pass around, plus the capability interfaces (domain.AcquisitionSource,
// domain.Stimulator, ...) that let simulators and real device SDKs satisfy
// the same contract.
package domain

import "fmt"

// Sample is a single signed 16-bit, microvolt-scaled reading from one
// channel at one point in time.
type Sample int16

// RawFrame maps channel index to an ordered sequence of samples. Channels
// may be independently empty (absent this tick). All present channels in
// a frame share one sampling rate. A RawFrame is immutable once published
// by the acquisition hub: subscribers read it, never mutate it.
type RawFrame struct {
	SampleRateHz float64
	Channels     map[uint8][]Sample
}

// Len returns the number of samples on the given channel, or 0 if absent.
func (f *RawFrame) Len(ch uint8) int {
	if f == nil {
		return 0
	}
	return len(f.Channels[ch])
}

// MaxLen returns the length of the longest channel in the frame.
func (f *RawFrame) MaxLen() int {
	max := 0
	for _, s := range f.Channels {
		if len(s) > max {
			max = len(s)
		}
	}
	return max
}

// DoubleFrame has the same shape as RawFrame but carries floating point
// values, produced once the integer samples have been bipolar
// re-referenced or otherwise transformed.
type DoubleFrame struct {
	SampleRateHz float64
	Channels     map[uint8][]float64
}

// BipolarPair names two monopolar channels differenced to form one
// bipolar channel: pos - neg. Both indices must exist and be non-empty
// in the source RawFrame, and pos must not equal neg.
type BipolarPair struct {
	Pos uint8
	Neg uint8
}

// Validate checks the BipolarPair invariant in isolation (pos != neg).
// Existence/non-emptiness against a specific frame is checked by the
// feature pipeline, which has the frame in hand.
func (p BipolarPair) Validate() error {
	if p.Pos == p.Neg {
		return NewBoundsError("domain", fmt.Sprintf("bipolar pair has identical electrodes %d", p.Pos))
	}
	return nil
}

// Powers is a 3-D array indexed [frequency, channel, time-sample],
// produced by the Morlet wavelet transform and carried through the rest
// of the feature pipeline. Channels is the bipolar-channel index order
// (position in this slice, not an electrode number) used consistently by
// every stage and by the rolling normalizer's per (channel, frequency)
// statistics.
type Powers struct {
	SampleRateHz float64
	Freqs        []float64 // length F, Hz
	NumChannels  int        // C
	Data         [][][]float64 // [F][C][T]
}

// NewPowers allocates a Powers with T time samples per (freq, channel).
func NewPowers(freqs []float64, numChannels, numTime int, sampleRateHz float64) *Powers {
	data := make([][][]float64, len(freqs))
	for f := range data {
		data[f] = make([][]float64, numChannels)
		for c := range data[f] {
			data[f][c] = make([]float64, numTime)
		}
	}
	return &Powers{
		SampleRateHz: sampleRateHz,
		Freqs:        append([]float64(nil), freqs...),
		NumChannels:  numChannels,
		Data:         data,
	}
}

// NumTime returns the time-axis length, or 0 for an empty Powers.
func (p *Powers) NumTime() int {
	if len(p.Data) == 0 || len(p.Data[0]) == 0 {
		return 0
	}
	return len(p.Data[0][0])
}

// ZeroChannel zeros every (freq, time) entry for the given channel index,
// used by artifact rejection (feature pipeline step 7).
func (p *Powers) ZeroChannel(ch int) {
	for f := range p.Data {
		for t := range p.Data[f][ch] {
			p.Data[f][ch][t] = 0
		}
	}
}

// Clone returns a deep copy, used where a stage must not mutate its input
// in place (e.g. the normalizer producing a z-scored copy).
func (p *Powers) Clone() *Powers {
	out := NewPowers(p.Freqs, p.NumChannels, p.NumTime(), p.SampleRateHz)
	for f := range p.Data {
		for c := range p.Data[f] {
			copy(out.Data[f][c], p.Data[f][c])
		}
	}
	return out
}

// ClassifierType is the kind of classification event the CPS controller
// schedules: a trial's purpose determines whether its result updates the
// rolling baseline (NORMALIZE) or is routed to the classifier (STIM/SHAM,
// and NOSTIM, which marks the post-stim window and is scored the same way).
type ClassifierType int

const (
	ClassifierSTIM ClassifierType = iota
	ClassifierSHAM
	ClassifierNORMALIZE
	ClassifierNOSTIM
)

func (c ClassifierType) String() string {
	switch c {
	case ClassifierSTIM:
		return "STIM"
	case ClassifierSHAM:
		return "SHAM"
	case ClassifierNORMALIZE:
		return "NORMALIZE"
	case ClassifierNOSTIM:
		return "NOSTIM"
	default:
		return "UNKNOWN"
	}
}

// TaskClassifierSettings describes one classification trigger: classify
// the next duration_ms worth of samples, binned to binned_sampling_rate,
// tagged classif_id, for purpose cl_type.
type TaskClassifierSettings struct {
	ClType             ClassifierType
	DurationMs         uint64
	ClassifID          uint64
	BinnedSamplingRate uint32
}

// StimChannel is one bipolar stimulation channel within a StimProfile.
type StimChannel struct {
	ElectrodePos    uint8
	ElectrodeNeg    uint8
	AmplitudeUA     uint16
	FrequencyHz     uint32
	DurationUs      uint32
	AreaMM2         float32
	BurstFrac       float32 // default 1
	BurstSlowFreqHz uint32  // default 0
}

// WithDefaults returns a copy with BurstFrac defaulted to 1 when zero.
func (s StimChannel) WithDefaults() StimChannel {
	if s.BurstFrac == 0 {
		s.BurstFrac = 1
	}
	return s
}

// PulseCount computes (duration_us * frequency_Hz) / 1e6, the number of
// biphasic pulses in the burst.
func (s StimChannel) PulseCount() float64 {
	return float64(s.DurationUs) * float64(s.FrequencyHz) / 1e6
}

// Triple identifies the (amplitude, frequency, duration) combination the
// device must encode as one anodic/cathodic waveform pair; StimProfile
// validation caps the number of unique triples at 7.
type Triple struct {
	AmplitudeUA uint16
	FrequencyHz uint32
	DurationUs  uint32
}

func (s StimChannel) triple() Triple {
	return Triple{AmplitudeUA: s.AmplitudeUA, FrequencyHz: s.FrequencyHz, DurationUs: s.DurationUs}
}

// StimProfile is an ordered sequence of up to 63 StimChannels, all with
// mutually disjoint electrode indices.
type StimProfile []StimChannel

// SiteLimits are the per-electrode-site safety limits a StimProfile is
// validated against; they come from the experiment config (spec.md §6).
type SiteLimits struct {
	MaxAmplitudeUA uint16
	MinFrequencyHz uint32
	MaxFrequencyHz uint32
	MinDurationUs  uint32
	MaxDurationUs  uint32
}

const (
	// MaxStimPairs is the device's hard limit on bipolar pairs per profile.
	MaxStimPairs = 63
	// MaxStimTriples is the device's hard limit on unique (amplitude,
	// frequency, duration) triples per profile; the device encodes one
	// anodic-first/cathodic-first waveform pair per unique triple.
	MaxStimTriples = 7
	// MinPulseCount and MaxPulseCount bound the computed pulse count.
	MinPulseCount = 1
	MaxPulseCount = 255
)

// Validate checks every StimProfile invariant from spec.md §3/§4.8/§8
// invariant 6: unique electrodes across positives and negatives, at most
// MaxStimPairs channels, at most MaxStimTriples unique (amplitude,
// frequency, duration) combinations, pulse count in [1,255] per channel,
// and (if limits is non-nil) every value inside the per-site limits.
func (p StimProfile) Validate(limits *SiteLimits) error {
	if len(p) == 0 {
		return NewBoundsError("domain", "stim profile is empty")
	}
	if len(p) > MaxStimPairs {
		return NewBoundsError("domain", fmt.Sprintf("stim profile has %d pairs, limit is %d", len(p), MaxStimPairs))
	}

	seenElectrodes := make(map[uint8]struct{}, len(p)*2)
	triples := make(map[Triple]struct{}, len(p))

	for i, ch := range p {
		ch = ch.WithDefaults()
		if ch.ElectrodePos == ch.ElectrodeNeg {
			return NewBoundsError("domain", fmt.Sprintf("stim channel %d: pos == neg (%d)", i, ch.ElectrodePos))
		}
		for _, e := range [2]uint8{ch.ElectrodePos, ch.ElectrodeNeg} {
			if _, dup := seenElectrodes[e]; dup {
				return NewBoundsError("domain", fmt.Sprintf("electrode %d reused across stim profile", e))
			}
			seenElectrodes[e] = struct{}{}
		}

		if ch.BurstFrac != 1 && ch.BurstSlowFreqHz == 0 {
			return NewBoundsError("domain", fmt.Sprintf("stim channel %d: burst_frac != 1 requires burst_slow_freq > 0", i))
		}

		pulses := ch.PulseCount()
		if pulses < MinPulseCount || pulses > MaxPulseCount {
			return NewBoundsError("domain", fmt.Sprintf("stim channel %d: pulse count %.2f out of [%d,%d]", i, pulses, MinPulseCount, MaxPulseCount))
		}

		if limits != nil {
			if ch.AmplitudeUA > limits.MaxAmplitudeUA {
				return NewBoundsError("domain", fmt.Sprintf("stim channel %d: amplitude %d exceeds site limit %d", i, ch.AmplitudeUA, limits.MaxAmplitudeUA))
			}
			if ch.FrequencyHz < limits.MinFrequencyHz || ch.FrequencyHz > limits.MaxFrequencyHz {
				return NewBoundsError("domain", fmt.Sprintf("stim channel %d: frequency %d out of site range [%d,%d]", i, ch.FrequencyHz, limits.MinFrequencyHz, limits.MaxFrequencyHz))
			}
			if ch.DurationUs < limits.MinDurationUs || ch.DurationUs > limits.MaxDurationUs {
				return NewBoundsError("domain", fmt.Sprintf("stim channel %d: duration %d out of site range [%d,%d]", i, ch.DurationUs, limits.MinDurationUs, limits.MaxDurationUs))
			}
		}

		triples[ch.triple()] = struct{}{}
	}

	if len(triples) > MaxStimTriples {
		return NewBoundsError("domain", fmt.Sprintf("stim profile has %d unique (amplitude,frequency,duration) triples, limit is %d", len(triples), MaxStimTriples))
	}

	return nil
}

// MaxDurationUs returns the longest channel duration in the profile, used
// to report max_duration to the status panel after Stimulate.
func (p StimProfile) MaxDurationUs() uint32 {
	var max uint32
	for _, ch := range p {
		if ch.DurationUs > max {
			max = ch.DurationUs
		}
	}
	return max
}
