// Package device provides deterministic simulators of the acquisition
// source and stimulator capabilities (spec.md §4.1), satisfying the same
// domain.AcquisitionSource / domain.Stimulator contracts a real device
// SDK would, plus a minimal null EDF-writer subscriber that proves C2's
// fan-out integration point is exercised without a real file-writer
// collaborator (spec.md §1, "EDF file writer... referenced only by
// interface").
package device

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// SineSource is a deterministic domain.AcquisitionSource producing one
// sinusoid per channel, useful for tests and demos. Each channel c
// oscillates at frequency (1+c) Hz with an amplitude of 5000 Sample units.
type SineSource struct {
	log *logger.Logger

	mu          sync.Mutex
	initialized bool
	closed      bool
	rateHz      float64
	channels    []uint8
	sampleIdx   map[uint8]int // running sample count per channel, drives phase
}

// NewSineSource creates a simulated acquisition source.
func NewSineSource(log *logger.Logger) *SineSource {
	return &SineSource{log: log, rateHz: 1000}
}

// Initialize arms the source for the given channels at the fixed
// simulated sampling rate.
func (s *SineSource) Initialize(ctx context.Context, channels []uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return domain.ErrAlreadyArmed
	}
	s.initialized = true
	s.closed = false
	s.channels = append([]uint8(nil), channels...)
	s.sampleIdx = make(map[uint8]int, len(channels))
	for _, c := range channels {
		s.sampleIdx[c] = 0
	}
	s.log.Debug("device: sine source initialized for %d channels at %.0fHz", len(channels), s.rateHz)
	return nil
}

// SamplingRateHz reports the fixed simulated sampling rate.
func (s *SineSource) SamplingRateHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateHz
}

// Poll synthesizes a fixed 40 samples per channel on every call,
// regardless of how much wall time has passed since the last call; each
// channel's phase continues from the previous poll, so repeated polls
// produce a continuous waveform.
func (s *SineSource) Poll(ctx context.Context) (*domain.RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSourceClosed
	}
	if !s.initialized {
		return nil, domain.ErrNotConfigured
	}

	const samplesPerPoll = 40 // ~40ms at 1kHz, matches C2's default polling_interval_ms

	frame := &domain.RawFrame{
		SampleRateHz: s.rateHz,
		Channels:     make(map[uint8][]domain.Sample, len(s.channels)),
	}
	for _, c := range s.channels {
		start := s.sampleIdx[c]
		samples := make([]domain.Sample, samplesPerPoll)
		freq := 1 + float64(c)
		for i := range samples {
			t := float64(start+i) / s.rateHz
			v := math.Sin(2*math.Pi*freq*t) * 5000
			samples[i] = domain.Sample(v)
		}
		frame.Channels[c] = samples
		s.sampleIdx[c] = start + samplesPerPoll
	}
	return frame, nil
}

// Close releases the source. Idempotent.
func (s *SineSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.initialized = false
	return nil
}

// SimStimulator is a deterministic domain.Stimulator: it validates and
// "fires" a profile by sleeping for its max duration and emitting status
// transitions, with no real hardware behind it.
type SimStimulator struct {
	log *logger.Logger

	mu        sync.Mutex
	limits    map[domain.BipolarPair]domain.SiteLimits
	profile   domain.StimProfile
	armed     bool
	stimming  bool
	closed    bool
	updates   chan domain.StimStatus
	stopCh    chan struct{}
}

// NewSimStimulator creates a simulated stimulator. limits maps a channel
// pair to its per-site safety limits; a nil or missing entry means no
// limit is enforced for that pair beyond the device-wide ones in
// domain.StimProfile.Validate.
func NewSimStimulator(log *logger.Logger, limits map[domain.BipolarPair]domain.SiteLimits) *SimStimulator {
	return &SimStimulator{
		log:     log,
		limits:  limits,
		updates: make(chan domain.StimStatus, 16),
		stopCh:  make(chan struct{}),
	}
}

// Configure validates profile against device-wide and per-site limits
// and, on success, programs it as the active profile.
func (s *SimStimulator) Configure(ctx context.Context, profile domain.StimProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stimming {
		return domain.ErrAlreadyArmed
	}

	for _, ch := range profile {
		pair := domain.BipolarPair{Pos: ch.ElectrodePos, Neg: ch.ElectrodeNeg}
		limits, ok := s.limits[pair]
		if !ok {
			continue
		}
		if err := (domain.StimProfile{ch}).Validate(&limits); err != nil {
			return err
		}
	}
	if err := profile.Validate(nil); err != nil {
		return err
	}

	s.profile = append(domain.StimProfile(nil), profile...)
	s.armed = true
	s.log.Info("device: stim profile configured (%d channels)", len(profile))
	return nil
}

// Stimulate fires the configured profile, emitting a status update per
// channel as it starts and stops, blocking for the profile's maximum
// channel duration.
func (s *SimStimulator) Stimulate(ctx context.Context) error {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return domain.ErrNotConfigured
	}
	profile := s.profile
	s.stimming = true
	s.mu.Unlock()

	for _, ch := range profile {
		s.emit(domain.StimStatus{ElectrodePos: ch.ElectrodePos, ElectrodeNeg: ch.ElectrodeNeg, Stimming: true})
	}

	maxDur := time.Duration(profile.MaxDurationUs()) * time.Microsecond
	select {
	case <-time.After(maxDur):
	case <-s.stopCh:
	case <-ctx.Done():
	}

	for _, ch := range profile {
		s.emit(domain.StimStatus{ElectrodePos: ch.ElectrodePos, ElectrodeNeg: ch.ElectrodeNeg, Stimming: false})
	}

	s.mu.Lock()
	s.stimming = false
	s.mu.Unlock()
	return nil
}

func (s *SimStimulator) emit(status domain.StimStatus) {
	select {
	case s.updates <- status:
	default:
		s.log.Warn("device: status update dropped, reader too slow")
	}
}

// StatusUpdates returns the channel of per-channel stimming transitions.
func (s *SimStimulator) StatusUpdates() <-chan domain.StimStatus {
	return s.updates
}

// Stop halts an in-flight stimulation immediately. Idempotent.
func (s *SimStimulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	stimming := s.stimming
	s.mu.Unlock()
	if !stimming {
		return nil
	}
	select {
	case s.stopCh <- struct{}{}:
	default:
	}
	return nil
}

// Close releases the simulator. Idempotent.
func (s *SimStimulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.updates)
	return nil
}

// NullEDFWriter is a minimal domain.FrameSubscriber that only counts
// samples seen per channel, standing in for a real EDF file writer
// (spec.md §1/§6: EDF output is an external collaborator, referenced
// only by interface).
type NullEDFWriter struct {
	mu     sync.Mutex
	counts map[uint8]int
}

// NewNullEDFWriter creates a counting stub subscriber.
func NewNullEDFWriter() *NullEDFWriter {
	return &NullEDFWriter{counts: make(map[uint8]int)}
}

// Subscriber returns the domain.FrameSubscriber to register with C2.
func (w *NullEDFWriter) Subscriber() domain.FrameSubscriber {
	return func(frame *domain.RawFrame) {
		w.mu.Lock()
		defer w.mu.Unlock()
		for ch, samples := range frame.Channels {
			w.counts[ch] += len(samples)
		}
	}
}

// Count returns the number of samples seen on ch so far.
func (w *NullEDFWriter) Count(ch uint8) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[ch]
}
