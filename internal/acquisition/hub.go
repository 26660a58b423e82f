// Package acquisition implements C2, the EEG acquisition hub: a
// periodic puller that, while any subscriber is registered, wakes on a
// timer, pulls new samples from the configured domain.AcquisitionSource,
// pads channels to equal length, freezes the frame, and fans it out to
// every registered subscriber in registration order (spec.md §4.2).
//
// The hub is a single-threaded worker: every public method sends a
// message to its own internal/actor.Mailbox and waits for a reply, so
// all of its state (subscriber list, armed/initialized flags, poller
// lifecycle) is touched only by the goroutine running Run, matching the
// concurrency model of spec.md §5.
package acquisition

import (
	"context"
	"time"

	"github.com/elemem-bci/elemem/internal/actor"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// DefaultPollingIntervalMs is the default cadence of the acquisition
// timer (spec.md §4.2).
const DefaultPollingIntervalMs = 40

// replyTimeout bounds how long a public method waits for the hub's
// worker goroutine to process its request.
const replyTimeout = 2 * time.Second

type subscriber struct {
	tag string
	fn  domain.FrameSubscriber
}

type msgSetSource struct {
	source domain.AcquisitionSource
	reply  *actor.Reply[error]
}

type msgInitializeChannels struct {
	channels []uint8
	reply    *actor.Reply[error]
}

type msgRegisterCallback struct {
	tag   string
	fn    domain.FrameSubscriber
	reply *actor.Reply[error]
}

type msgRemoveCallback struct {
	tag   string
	reply *actor.Reply[struct{}]
}

type msgCloseSource struct {
	reply *actor.Reply[error]
}

type msgPollTick struct{}

// Hub is C2.
type Hub struct {
	log      *logger.Logger
	mailbox  *actor.Mailbox[any]
	interval time.Duration

	// Touched only inside handle(), which runs on Run's goroutine.
	source       domain.AcquisitionSource
	subs         []subscriber
	subIndex     map[string]int
	initialized  bool
	pollerCancel context.CancelFunc
}

// New creates an acquisition hub polling at the given interval (use
// DefaultPollingIntervalMs if unsure).
func New(log *logger.Logger, interval time.Duration) *Hub {
	return &Hub{
		log:      log,
		mailbox:  actor.New[any](64),
		interval: interval,
		subIndex: make(map[string]int),
	}
}

// Run drains the hub's mailbox until ctx is cancelled. Must be called on
// its own goroutine; every other method on Hub is safe to call
// concurrently from any goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.mailbox.Run(ctx, func(msg any) { h.handle(ctx, msg) })
	h.stopPoller()
}

// SetSource installs the acquisition source to poll.
func (h *Hub) SetSource(ctx context.Context, source domain.AcquisitionSource) error {
	reply := actor.NewReply[error]()
	if err := h.mailbox.Send(ctx, msgSetSource{source: source, reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// InitializeChannels stops the poller, initializes the source for the
// given channels, and re-arms polling if subscribers are registered.
func (h *Hub) InitializeChannels(ctx context.Context, channels []uint8) error {
	reply := actor.NewReply[error]()
	if err := h.mailbox.Send(ctx, msgInitializeChannels{channels: channels, reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// RegisterCallback registers fn under tag. Idempotent on tag: a second
// call with the same tag replaces the callback. Starts the poller if one
// is not already running and the source is initialized.
func (h *Hub) RegisterCallback(ctx context.Context, tag string, fn domain.FrameSubscriber) error {
	reply := actor.NewReply[error]()
	if err := h.mailbox.Send(ctx, msgRegisterCallback{tag: tag, fn: fn, reply: reply}); err != nil {
		return err
	}
	return await(reply)
}

// RemoveCallback removes the subscriber registered under tag.
// Idempotent: removing an unknown tag is a no-op. Stops the poller once
// the subscriber list becomes empty.
func (h *Hub) RemoveCallback(ctx context.Context, tag string) error {
	reply := actor.NewReply[struct{}]()
	if err := h.mailbox.Send(ctx, msgRemoveCallback{tag: tag, reply: reply}); err != nil {
		return err
	}
	_, err := reply.Wait(replyTimeout)
	return err
}

// CloseSource stops polling and closes the source.
func (h *Hub) CloseSource(ctx context.Context) error {
	reply := actor.NewReply[error]()
	if err := h.mailbox.Send(ctx, msgCloseSource{reply: reply}); err != nil {
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

func (h *Hub) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case msgSetSource:
		h.source = m.source
		m.reply.Fulfill(nil)

	case msgInitializeChannels:
		if h.source == nil {
			m.reply.Fulfill(domain.ErrNotConfigured)
			return
		}
		h.stopPoller()
		err := h.source.Initialize(ctx, m.channels)
		h.initialized = err == nil
		if err == nil && len(h.subs) > 0 {
			h.startPoller(ctx)
		}
		m.reply.Fulfill(err)

	case msgRegisterCallback:
		if m.fn == nil {
			m.reply.Fulfill(domain.ErrNoCallback)
			return
		}
		if idx, ok := h.subIndex[m.tag]; ok {
			h.subs[idx].fn = m.fn
		} else {
			h.subIndex[m.tag] = len(h.subs)
			h.subs = append(h.subs, subscriber{tag: m.tag, fn: m.fn})
		}
		if h.initialized && h.pollerCancel == nil {
			h.startPoller(ctx)
		}
		m.reply.Fulfill(nil)

	case msgRemoveCallback:
		if idx, ok := h.subIndex[m.tag]; ok {
			h.subs = append(h.subs[:idx], h.subs[idx+1:]...)
			delete(h.subIndex, m.tag)
			for tag, i := range h.subIndex {
				if i > idx {
					h.subIndex[tag] = i - 1
				}
			}
		}
		if len(h.subs) == 0 {
			h.stopPoller()
		}
		m.reply.Fulfill(struct{}{})

	case msgCloseSource:
		h.stopPoller()
		var err error
		if h.source != nil {
			err = h.source.Close()
		}
		h.initialized = false
		m.reply.Fulfill(err)

	case msgPollTick:
		h.doPoll(ctx)
	}
}

// startPoller launches the background goroutine that enqueues
// msgPollTick at the configured interval. The poller itself performs no
// device I/O; it only wakes the hub's own goroutine, which does the
// actual Poll call, preserving single-writer access to the source.
func (h *Hub) startPoller(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	h.pollerCancel = cancel
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				h.mailbox.TrySend(msgPollTick{})
			}
		}
	}()
}

func (h *Hub) stopPoller() {
	if h.pollerCancel != nil {
		h.pollerCancel()
		h.pollerCancel = nil
	}
}

// doPoll pulls one batch of samples from the source and fans it out. On
// a device error, polling stops and the error is reported once; callers
// must call InitializeChannels again to re-arm (spec.md §4.2 failure
// semantics).
func (h *Hub) doPoll(ctx context.Context) {
	frame, err := h.source.Poll(ctx)
	if err != nil {
		h.log.Error("acquisition: source error, stopping poller: %v", err)
		h.stopPoller()
		h.initialized = false
		return
	}

	padded := padFrame(frame)
	for _, s := range h.subs {
		deliverSafely(h.log, s, padded)
	}
}

// deliverSafely invokes one subscriber, isolating it from sibling
// subscribers by recovering a panic into a logged error (spec.md §4.2:
// "Subscriber exceptions are isolated... implementer MAY catch-and-log
// per delivery").
func deliverSafely(log *logger.Logger, s subscriber, frame *domain.RawFrame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("acquisition: subscriber %q panicked: %v", s.tag, r)
		}
	}()
	s.fn(frame)
}

// padFrame pads every channel shorter than the longest channel in the
// frame with trailing zeros, per spec.md §4.2.
func padFrame(frame *domain.RawFrame) *domain.RawFrame {
	maxLen := frame.MaxLen()
	out := &domain.RawFrame{
		SampleRateHz: frame.SampleRateHz,
		Channels:     make(map[uint8][]domain.Sample, len(frame.Channels)),
	}
	for ch, samples := range frame.Channels {
		if len(samples) == maxLen {
			out.Channels[ch] = samples
			continue
		}
		padded := make([]domain.Sample, maxLen)
		copy(padded, samples)
		out.Channels[ch] = padded
	}
	return out
}
