// Package taskclassifier implements C7, the task classifier manager: it
// bridges C2's frame delivery to C4's feature pipeline, owning one
// internal/window.Ring sized to hold at least classify_ms worth of
// samples, and routes a triggered classification's result to C6 (for
// STIM/SHAM/NOSTIM) or to the rolling normalizer (for NORMALIZE)
// (spec.md §4.7).
package taskclassifier

import (
	"context"
	"time"

	"github.com/elemem-bci/elemem/internal/actor"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/features"
	"github.com/elemem-bci/elemem/internal/logger"
	"github.com/elemem-bci/elemem/internal/normalize"
	"github.com/elemem-bci/elemem/internal/window"
)

const replyTimeout = 5 * time.Second

// ResultHandler is notified once a classification completes. For
// NORMALIZE triggers, score is not meaningful (normalizer update has no
// scalar result); callers should switch on settings.ClType.
type ResultHandler func(settings domain.TaskClassifierSettings, score float64, err error)

type pendingTrigger struct {
	settings  domain.TaskClassifierSettings
	remaining int
	windowLen int
}

type msgFrame struct {
	frame *domain.RawFrame
}

type msgTrigger struct {
	clType     domain.ClassifierType
	durationMs uint64
	classifID  uint64
	binnedRate uint32
	reply      *actor.Reply[error]
}

// Manager is C7.
type Manager struct {
	log        *logger.Logger
	ring       *window.Ring
	pipeline   *features.Pipeline
	normalizer *normalize.Normalizer
	classifier domain.Classifier
	onResult   ResultHandler
	mailbox    *actor.Mailbox[any]

	pending *pendingTrigger
}

// New creates a task classifier manager whose window holds up to
// capacitySamples samples per channel.
func New(log *logger.Logger, capacitySamples int, pipeline *features.Pipeline, normalizer *normalize.Normalizer, classifier domain.Classifier, onResult ResultHandler) *Manager {
	return &Manager{
		log:        log,
		ring:       window.New(capacitySamples),
		pipeline:   pipeline,
		normalizer: normalizer,
		classifier: classifier,
		onResult:   onResult,
		mailbox:    actor.New[any](128),
	}
}

// Run drains the manager's mailbox until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mailbox.Run(ctx, func(msg any) { m.handle(msg) })
}

// SetResultHandler installs the callback notified when a classification
// completes, used by the session root to close the C7->C9 wiring loop
// after both have been constructed.
func (m *Manager) SetResultHandler(onResult ResultHandler) {
	m.onResult = onResult
}

// HandleFrame is the domain.FrameSubscriber registered with C2. It never
// blocks the caller beyond enqueueing onto the manager's own mailbox.
func (m *Manager) HandleFrame(frame *domain.RawFrame) {
	m.mailbox.TrySend(msgFrame{frame: frame})
}

// ProcessClassifierEvent arms a pending classification trigger. If one
// is already armed, it is refused (spec.md §4.7: "If already armed,
// refuse and log").
func (m *Manager) ProcessClassifierEvent(ctx context.Context, clType domain.ClassifierType, durationMs uint64, classifID uint64, binnedRate uint32) error {
	reply := actor.NewReply[error]()
	msg := msgTrigger{clType: clType, durationMs: durationMs, classifID: classifID, binnedRate: binnedRate, reply: reply}
	if err := m.mailbox.Send(ctx, msg); err != nil {
		return err
	}
	err, waitErr := reply.Wait(replyTimeout)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (m *Manager) handle(msg any) {
	switch v := msg.(type) {
	case msgFrame:
		m.onFrame(v.frame)
	case msgTrigger:
		m.onTrigger(v)
	}
}

func (m *Manager) onFrame(frame *domain.RawFrame) {
	l := frame.MaxLen()

	if m.pending == nil {
		if err := m.ring.Append(frame, 0, l); err != nil {
			m.log.Error("taskclassifier: append failed: %v", err)
		}
		return
	}

	n := m.pending.remaining
	if l >= n {
		if err := m.ring.Append(frame, 0, n); err != nil {
			m.log.Error("taskclassifier: append failed: %v", err)
			m.pending = nil
			return
		}
		settings := m.pending.settings
		windowLen := m.pending.windowLen
		m.pending = nil
		m.startClassification(settings, windowLen)
		if n < l {
			if err := m.ring.Append(frame, n, l-n); err != nil {
				m.log.Error("taskclassifier: append failed: %v", err)
			}
		}
		return
	}

	if err := m.ring.Append(frame, 0, l); err != nil {
		m.log.Error("taskclassifier: append failed: %v", err)
		return
	}
	m.pending.remaining -= l
}

func (m *Manager) onTrigger(v msgTrigger) {
	if m.pending != nil {
		m.log.Warn("taskclassifier: trigger %d refused, one is already armed", v.classifID)
		v.reply.Fulfill(domain.ErrAlreadyArmed)
		return
	}

	n := int(float64(v.durationMs) * m.ring.SampleRateHz() / 1000)
	if n <= 0 {
		v.reply.Fulfill(domain.NewBoundsError("taskclassifier", "trigger duration resolves to zero samples; has a frame arrived yet?"))
		return
	}

	m.pending = &pendingTrigger{
		settings: domain.TaskClassifierSettings{
			ClType:             v.clType,
			DurationMs:         v.durationMs,
			ClassifID:          v.classifID,
			BinnedSamplingRate: v.binnedRate,
		},
		remaining: n,
		windowLen: n,
	}
	v.reply.Fulfill(nil)
}

// startClassification snapshots the exact windowLen-sample window, bins
// it to BinnedSamplingRate, and invokes the feature pipeline, per
// spec.md §4.7. The snapshot passed to C4 ends exactly at the sample
// where the trigger's classification window closes, satisfying the
// timing invariant: onFrame above appends exactly the trigger's N
// samples before calling this, so SnapshotAmount(windowLen) — which
// reads the most recently written windowLen samples — closes precisely
// there.
func (m *Manager) startClassification(settings domain.TaskClassifierSettings, windowLen int) {
	raw := m.ring.SnapshotAmount(windowLen)

	binned, err := binFrame(raw, settings.BinnedSamplingRate)
	if err != nil {
		m.log.Error("taskclassifier: binning failed: %v", err)
		if m.onResult != nil {
			m.onResult(settings, 0, err)
		}
		return
	}

	powers, err := m.pipeline.RunDouble(binned)
	if err != nil {
		m.log.Error("taskclassifier: pipeline failed: %v", err)
		if m.onResult != nil {
			m.onResult(settings, 0, err)
		}
		return
	}

	if settings.ClType == domain.ClassifierNORMALIZE {
		m.normalizer.Update(powers)
		if m.onResult != nil {
			m.onResult(settings, 0, nil)
		}
		return
	}

	zscored := m.normalizer.Zscore(powers, true)
	featureVector := flatten(zscored)

	// STIM, SHAM, and NOSTIM (the post-stim classify) are all run through
	// the classifier; only NORMALIZE, handled above, bypasses it.
	score, err := m.classifier.Classify(featureVector)
	if err == nil {
		m.classifier.Notify(settings, score)
	}
	if m.onResult != nil {
		m.onResult(settings, score, err)
	}
}

// flatten lays out a time-averaged Powers (one sample per freq/channel
// cell) as a flat feature vector in frequency-major, channel-minor order.
func flatten(p *domain.Powers) []float64 {
	out := make([]float64, 0, len(p.Freqs)*p.NumChannels)
	for f := range p.Data {
		for c := range p.Data[f] {
			out = append(out, p.Data[f][c][0])
		}
	}
	return out
}
