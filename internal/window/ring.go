// Package window implements the fixed-capacity circular buffer of
// spec.md §4.3: one ring per channel, supporting chronological-order
// snapshots of the most recent samples.
package window

import (
	"fmt"

	"github.com/elemem-bci/elemem/internal/domain"
)

// Ring is a fixed-capacity ring buffer of domain.Sample, one per
// channel, all sharing one sampling rate fixed by the first non-empty
// append. Not safe for concurrent use; callers (C7) serialize access
// through their own mailbox.
type Ring struct {
	capacity int
	rateSet  bool
	rateHz   float64
	total    int // total samples ever appended, per channel (all channels advance together)

	buf map[uint8][]domain.Sample // length == capacity once a channel is seen
	pos map[uint8]int             // next write index (wraps at capacity)
}

// New creates a Ring with the given per-channel capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		panic("window: capacity must be positive")
	}
	return &Ring{
		capacity: capacity,
		buf:      make(map[uint8][]domain.Sample),
		pos:      make(map[uint8]int),
	}
}

// Capacity returns the ring's fixed per-channel capacity.
func (r *Ring) Capacity() int { return r.capacity }

// SampleRateHz returns the rate fixed by the first append, or 0 if no
// frame has been appended yet.
func (r *Ring) SampleRateHz() float64 { return r.rateHz }

// Total returns the number of samples appended so far (per channel; all
// channels advance in lockstep since a frame carries all channels at
// once).
func (r *Ring) Total() int { return r.total }

// Append writes samples from frame's channels at the given window
// `start` offset, `amount` samples, into the ring, wrapping at capacity
// as needed. The first non-empty append fixes the ring's channel set
// and sampling rate; subsequent appends with a different channel set
// are rejected as a bounds error (spec.md §4.3).
func (r *Ring) Append(frame *domain.RawFrame, start, amount int) error {
	if frame == nil {
		return domain.NewBoundsError("window", "append of nil frame")
	}

	if !r.rateSet {
		r.rateHz = frame.SampleRateHz
		r.rateSet = true
		for ch := range frame.Channels {
			r.buf[ch] = make([]domain.Sample, r.capacity)
			r.pos[ch] = 0
		}
	} else {
		if len(frame.Channels) != len(r.buf) {
			return domain.NewBoundsError("window", fmt.Sprintf("channel count mismatch: ring has %d, frame has %d", len(r.buf), len(frame.Channels)))
		}
		for ch := range frame.Channels {
			if _, ok := r.buf[ch]; !ok {
				return domain.NewBoundsError("window", fmt.Sprintf("unknown channel %d in append", ch))
			}
		}
	}

	for ch, samples := range frame.Channels {
		if start < 0 || start > len(samples) {
			return domain.NewBoundsError("window", fmt.Sprintf("start %d out of range for channel %d length %d", start, ch, len(samples)))
		}
		end := start + amount
		if end > len(samples) {
			end = len(samples)
		}
		for i := start; i < end; i++ {
			r.buf[ch][r.pos[ch]] = samples[i]
			r.pos[ch] = (r.pos[ch] + 1) % r.capacity
		}
	}

	r.total += amount
	return nil
}

// Snapshot returns all capacity samples per channel in chronological
// order (oldest first). Before the ring has wrapped, unfilled slots read
// as their initial zero (spec.md §4.3).
func (r *Ring) Snapshot() *domain.RawFrame {
	return r.snapshot(r.capacity, false)
}

// SnapshotAmount returns the last `amount` samples per channel in
// chronological order, clamped to the number of samples actually
// written so far (min(amount, total, capacity)) — used where the caller
// needs an exact-length window rather than a zero-padded one (e.g. C7's
// start_classification).
func (r *Ring) SnapshotAmount(amount int) *domain.RawFrame {
	return r.snapshot(amount, true)
}

func (r *Ring) snapshot(amount int, clampToWritten bool) *domain.RawFrame {
	if amount > r.capacity {
		amount = r.capacity
	}
	if amount < 0 {
		amount = 0
	}

	if clampToWritten {
		logicalLen := r.total
		if logicalLen > r.capacity {
			logicalLen = r.capacity
		}
		if amount > logicalLen {
			amount = logicalLen
		}
	}

	out := &domain.RawFrame{
		SampleRateHz: r.rateHz,
		Channels:     make(map[uint8][]domain.Sample, len(r.buf)),
	}

	for ch, data := range r.buf {
		result := make([]domain.Sample, amount)
		// The write cursor r.pos[ch] points just past the most recent
		// sample; the oldest of the requested `amount` samples starts
		// `amount` slots behind it.
		startIdx := (r.pos[ch] - amount%r.capacity + r.capacity) % r.capacity
		for i := 0; i < amount; i++ {
			result[i] = data[(startIdx+i)%r.capacity]
		}
		out.Channels[ch] = result
	}
	return out
}
