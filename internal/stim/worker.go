// Package stim implements C8, the stim worker: validates a stimulation
// profile, programs it onto a domain.Stimulator, and executes the
// discharge, emitting one STIMMING event per channel (spec.md §4.8).
package stim

import (
	"context"
	"time"

	"github.com/elemem-bci/elemem/internal/actor"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// StimmingEvent is one per-channel record emitted when Stimulate fires,
// matching the field set of spec.md §4.8 ("electrode_pos, electrode_neg,
// amplitude(mA), frequency, duration(ms)").
type StimmingEvent struct {
	ElectrodePos uint8
	ElectrodeNeg uint8
	AmplitudeMA  float64
	FrequencyHz  uint32
	DurationMs   float64
}

// EventSink receives StimmingEvents and the max_duration notification
// (as a time.Duration) delivered to the status panel after Stimulate.
type EventSink interface {
	OnStimming(StimmingEvent)
	OnMaxDuration(time.Duration)
}

const replyTimeout = 5 * time.Second

type msgConfigure struct {
	profile domain.StimProfile
	reply   *actor.Reply[error]
}

type msgStimulate struct {
	reply *actor.Reply[error]
}

type msgStop struct {
	reply *actor.Reply[error]
}

type msgClose struct {
	reply *actor.Reply[error]
}

// Worker is C8.
type Worker struct {
	log     *logger.Logger
	device  domain.Stimulator
	limits  map[domain.BipolarPair]domain.SiteLimits
	sink    EventSink
	mailbox *actor.Mailbox[any]

	configured domain.StimProfile
	armed      bool
}

// New creates a stim worker driving device, using limits (may be nil
// for no per-site enforcement beyond device-wide limits) and reporting
// events to sink.
func New(log *logger.Logger, device domain.Stimulator, limits map[domain.BipolarPair]domain.SiteLimits, sink EventSink) *Worker {
	return &Worker{
		log:     log,
		device:  device,
		limits:  limits,
		sink:    sink,
		mailbox: actor.New[any](16),
	}
}

// Run drains the worker's mailbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.mailbox.Run(ctx, func(msg any) { w.handle(ctx, msg) })
}

// ConfigureStimulation validates profile against device-wide and
// per-site limits and, on success, programs it as the active profile.
func (w *Worker) ConfigureStimulation(ctx context.Context, profile domain.StimProfile) error {
	reply := actor.NewReply[error]()
	if err := w.mailbox.Send(ctx, msgConfigure{profile: profile, reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// Stimulate fires the configured profile.
func (w *Worker) Stimulate(ctx context.Context) error {
	reply := actor.NewReply[error]()
	if err := w.mailbox.Send(ctx, msgStimulate{reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// Stop halts an in-flight stimulation. Idempotent.
func (w *Worker) Stop(ctx context.Context) error {
	reply := actor.NewReply[error]()
	if err := w.mailbox.Send(ctx, msgStop{reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// Close releases the underlying device. Idempotent.
func (w *Worker) Close(ctx context.Context) error {
	reply := actor.NewReply[error]()
	if err := w.mailbox.Send(ctx, msgClose{reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

func await(reply *actor.Reply[error]) error {
	err, waitErr := reply.Wait(replyTimeout)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (w *Worker) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case msgConfigure:
		err := w.validate(m.profile)
		if err == nil {
			err = w.device.Configure(ctx, m.profile)
		}
		if err == nil {
			w.configured = append(domain.StimProfile(nil), m.profile...)
			w.armed = true
		}
		m.reply.Fulfill(err)

	case msgStimulate:
		if !w.armed {
			m.reply.Fulfill(domain.ErrNotConfigured)
			return
		}
		err := w.device.Stimulate(ctx)
		if err == nil {
			w.notify()
		}
		m.reply.Fulfill(err)

	case msgStop:
		m.reply.Fulfill(w.device.Stop(ctx))

	case msgClose:
		m.reply.Fulfill(w.device.Close())
	}
}

func (w *Worker) validate(profile domain.StimProfile) error {
	if w.limits == nil {
		return profile.Validate(nil)
	}
	for _, ch := range profile {
		pair := domain.BipolarPair{Pos: ch.ElectrodePos, Neg: ch.ElectrodeNeg}
		limits := w.limits[pair]
		if err := (domain.StimProfile{ch}).Validate(&limits); err != nil {
			return err
		}
	}
	return profile.Validate(nil)
}

// notify emits the max_duration notification and one STIMMING event per
// channel, per spec.md §4.8.
func (w *Worker) notify() {
	if w.sink == nil {
		return
	}
	maxDur := time.Duration(w.configured.MaxDurationUs()) * time.Microsecond
	w.sink.OnMaxDuration(maxDur)
	for _, ch := range w.configured {
		w.sink.OnStimming(StimmingEvent{
			ElectrodePos: ch.ElectrodePos,
			ElectrodeNeg: ch.ElectrodeNeg,
			AmplitudeMA:  float64(ch.AmplitudeUA) / 1000,
			FrequencyHz:  ch.FrequencyHz,
			DurationMs:   float64(ch.DurationUs) / 1000,
		})
	}
}
