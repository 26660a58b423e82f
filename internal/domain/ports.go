package domain

import "context"

// AcquisitionSource is the capability C2 (the acquisition hub) polls for
// new EEG samples. Both the deterministic simulator in internal/device
// and any real device SDK satisfy this port; C2 depends only on the
// interface.
type AcquisitionSource interface {
	// Initialize arms the source for the given channel indices, at the
	// source's native sampling rate. Returns ErrAlreadyArmed if called
	// while already initialized without an intervening Close.
	Initialize(ctx context.Context, channels []uint8) error

	// SamplingRateHz reports the source's native sampling rate. Valid
	// only after Initialize.
	SamplingRateHz() float64

	// Poll blocks briefly and returns whatever samples have accumulated
	// on each initialized channel since the last Poll, or an empty frame
	// if none are yet available. Returns an *Error of KindDevice on a transport
	// fault; the caller (C2) stops polling on any error.
	Poll(ctx context.Context) (*RawFrame, error)

	// Close releases the source. Idempotent.
	Close() error
}

// Stimulator is the capability C8 (the stim worker) drives to program
// and fire a stimulation profile.
type Stimulator interface {
	// Configure validates and programs profile onto the device. Returns
	// an *Error of KindBounds if profile violates device limits (see
	// StimProfile.Validate), or ErrAlreadyArmed if called while a
	// stimulation is in flight.
	Configure(ctx context.Context, profile StimProfile) error

	// Stimulate fires the most recently configured profile. Returns
	// ErrNotConfigured if Configure has not succeeded first. May block
	// until the stimulation has finished (the simulator in internal/device
	// does); per-channel start/stop transitions are reported through
	// StatusUpdates.
	Stimulate(ctx context.Context) error

	// StatusUpdates returns a channel of per-channel stimulation status
	// events (e.g. "STIMMING" transitions), closed when the stimulator is
	// closed. Consumers should drain it promptly; the stimulator does
	// not block on a slow reader, and an update that does not fit the
	// channel's buffer is dropped.
	StatusUpdates() <-chan StimStatus

	// Stop halts an in-flight stimulation immediately. Idempotent; a no-op
	// if nothing is stimulating.
	Stop(ctx context.Context) error

	// Close releases the device. Idempotent.
	Close() error
}

// StimStatus reports the state of one stim channel at one moment,
// delivered over Stimulator.StatusUpdates.
type StimStatus struct {
	ElectrodePos uint8
	ElectrodeNeg uint8
	Stimming     bool
}

// FrameSubscriber is the callback signature C2 fans each polled frame
// out to. Implementations (the feature pipeline's intake, a raw EDF
// writer, a debug logger) must not mutate frame; C2 invokes every
// registered subscriber in registration order on its own goroutine, so a
// slow subscriber delays the others and the next poll.
type FrameSubscriber func(frame *RawFrame)

// Classifier is the capability C6 exposes to C7: map a feature vector to
// a probability-like score in [0,1], plus the register_callback/
// remove_callback capability of spec.md §4.6 that lets downstream
// subscribers observe every completed decision.
type Classifier interface {
	Classify(features []float64) (float64, error)

	// RegisterCallback registers fn under tag; re-registering a tag
	// replaces the previous subscriber. Returns ErrNoCallback if fn is nil.
	RegisterCallback(tag string, fn ClassifierSubscriber) error

	// RemoveCallback removes a previously registered subscriber. Idempotent.
	RemoveCallback(tag string)

	// Notify invokes every registered subscriber with a completed
	// classification's settings and score.
	Notify(settings TaskClassifierSettings, score float64)
}

// ClassifierSubscriber is notified of a completed classification, paired
// with the TaskClassifierSettings that triggered it.
type ClassifierSubscriber func(settings TaskClassifierSettings, score float64)
