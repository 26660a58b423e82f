package eventlog

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/elemem-bci/elemem/internal/acquisition"
	"github.com/elemem-bci/elemem/internal/bayes"
	"github.com/elemem-bci/elemem/internal/classifier"
	"github.com/elemem-bci/elemem/internal/config"
	"github.com/elemem-bci/elemem/internal/cps"
	"github.com/elemem-bci/elemem/internal/device"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/features"
	"github.com/elemem-bci/elemem/internal/logger"
	"github.com/elemem-bci/elemem/internal/normalize"
	"github.com/elemem-bci/elemem/internal/stim"
	"github.com/elemem-bci/elemem/internal/taskclassifier"
)

// Handler is C10's session root: it constructs and wires C2-C9 and owns
// the event journal. On stop it cancels the one context shared by every
// worker's Run loop; there is no ordered per-worker teardown.
type Handler struct {
	log       *logger.Logger
	journal   *Log
	sessionID string

	hub            *acquisition.Hub
	taskClassifier *taskclassifier.Manager
	stimWorker     *stim.Worker
	cps            *cps.Controller

	source     domain.AcquisitionSource
	stimDevice domain.Stimulator
	edf        *device.NullEDFWriter

	monopolarChannels []uint8
	cancel            context.CancelFunc
}

// Build wires a complete session from a loaded experiment config and
// resolved stim channels, using the built-in deterministic simulators
// for acquisition and stimulation (spec.md's device ports are satisfied
// equally by a real SDK or these simulators).
func Build(log *logger.Logger, journalPath string, cfg *config.Config, channels []config.ResolvedStimChannel, pairs []domain.BipolarPair, frequencies []float64) (*Handler, error) {
	journal, err := Open(log, journalPath)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:       log,
		journal:   journal,
		sessionID: uuid.NewString(),
	}

	h.hub = acquisition.New(log.With("acquisition"), acquisition.DefaultPollingIntervalMs*time.Millisecond)
	h.source = device.NewSineSource(log.With("device"))
	h.edf = device.NewNullEDFWriter()
	h.monopolarChannels = monopolarChannelSet(pairs)

	limits := make(map[domain.BipolarPair]domain.SiteLimits, len(channels))
	for _, ch := range channels {
		limits[domain.BipolarPair{Pos: ch.Pos, Neg: ch.Neg}] = ch.Limits
	}
	h.stimDevice = device.NewSimStimulator(log.With("device"), limits)
	h.stimWorker = stim.New(log.With("stim"), h.stimDevice, limits, h)

	pipeline := features.New(log.With("features"), pairs, features.DefaultOptions(frequencies))
	norm := normalize.New()
	weights := make([]float64, len(pairs)*len(frequencies))
	clf := classifier.NewLogisticRegression(log.With("classifier"), weights, 0)
	if err := clf.RegisterCallback("eventlog", h.OnClassification); err != nil {
		return nil, err
	}

	const ringCapacitySamples = 1 << 16 // generous upper bound on classify_ms*rate at typical iEEG sampling rates
	h.taskClassifier = taskclassifier.New(log.With("taskclassifier"), ringCapacitySamples, pipeline, norm, clf, nil)

	bounds := [][2]float64{{0, 10}, {0, 500}, {0, 1000}} // amplitude_mA, frequency_Hz, duration_ms search space
	optimizer := bayes.NewCoordinateSearch(bounds)

	params := cps.ParamsFromExperimentSpecs(cfg.ExperimentSpecs, 0, 0)
	h.cps = cps.New(log.With("cps"), params, h.taskClassifier, h.stimWorker, optimizer, channels, h)

	// C7 and C9 reference each other (C7 reports results to C9, C9 arms
	// triggers on C7); close the loop now that both are constructed.
	h.taskClassifier.SetResultHandler(h.cps.OnClassificationResult)

	return h, nil
}

// Run starts all workers and the CPS loop, blocking until the
// experiment terminates or ctx is cancelled. It starts the hub, the task
// classifier and the stim worker (in that order) on a shared context,
// which it cancels on return; once the CPS loop ends it logs EXIT and
// closes the journal.
func (h *Handler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	defer cancel()

	go h.hub.Run(ctx)
	go h.taskClassifier.Run(ctx)
	go h.stimWorker.Run(ctx)

	if err := h.hub.SetSource(ctx, h.source); err != nil {
		return err
	}
	if err := h.hub.InitializeChannels(ctx, h.monopolarChannels); err != nil {
		return err
	}
	if err := h.hub.RegisterCallback(ctx, "taskclassifier", h.taskClassifier.HandleFrame); err != nil {
		return err
	}
	if err := h.hub.RegisterCallback(ctx, "edf", h.edf.Subscriber()); err != nil {
		return err
	}

	h.logEvent(Event{Type: TypeStart, ID: h.sessionID})

	h.cps.Run(ctx)

	h.logEvent(Event{Type: TypeExit, ID: h.sessionID})
	return h.journal.Close()
}

// Stop cancels the session context, so every worker's Run loop returns
// without draining its inbox; the acquisition source is not closed here.
// Run then logs EXIT and closes (flushing) the journal.
func (h *Handler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// monopolarChannelSet collects the distinct monopolar electrode indices
// referenced by a bipolar montage, in ascending order, for C2's
// InitializeChannels call.
func monopolarChannelSet(pairs []domain.BipolarPair) []uint8 {
	seen := make(map[uint8]struct{}, len(pairs)*2)
	for _, p := range pairs {
		seen[p.Pos] = struct{}{}
		seen[p.Neg] = struct{}{}
	}
	out := make([]uint8, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (h *Handler) logEvent(e Event) {
	e.Time = nowRFC3339()
	if err := h.journal.Log(e); err != nil {
		h.log.Error("eventlog: write failed: %v", err)
	}
}

// OnStimming implements stim.EventSink, logging one STIMMING event per
// channel fired.
func (h *Handler) OnStimming(e stim.StimmingEvent) {
	h.logEvent(Event{Type: TypeStimming, ID: h.sessionID, Data: e})
}

// OnClassification is registered with C6 via domain.Classifier's
// callback registry (spec.md §4.6) and logs every completed
// classification, independent of the STIM/SHAM decision events C9 emits.
func (h *Handler) OnClassification(settings domain.TaskClassifierSettings, score float64) {
	h.logEvent(Event{
		Type: TypeClassify,
		ID:   h.sessionID,
		Data: map[string]any{"classif_id": settings.ClassifID, "cl_type": settings.ClType.String(), "score": score},
	})
}

// OnMaxDuration implements stim.EventSink; the max duration is not
// logged, since the event-log schema has no dedicated type for it.
func (h *Handler) OnMaxDuration(time.Duration) {}

// LogEvent implements cps.EventSink, translating a CPS EventRecord into
// the appropriate event-log type.
func (h *Handler) LogEvent(r cps.EventRecord) {
	switch r.ClType {
	case domain.ClassifierSTIM:
		h.logEvent(Event{Type: TypeStimDecision, ID: h.sessionID, Data: r})
	case domain.ClassifierSHAM:
		h.logEvent(Event{Type: TypeShamDecision, ID: h.sessionID, Data: r})
		h.logEvent(Event{Type: TypeSham, ID: h.sessionID, Data: r})
	default:
		h.logEvent(Event{Type: r.ClType.String(), ID: h.sessionID, Data: r})
	}
}

// Terminate implements cps.EventSink, logging the experiment's
// best-so-far profile and requesting the session stop.
func (h *Handler) Terminate(best domain.StimProfile, beatSham bool) {
	h.logEvent(Event{
		Type: "STOP",
		ID:   h.sessionID,
		Data: map[string]any{"best_profile": best, "beat_sham": beatSham},
	})
	h.Stop()
}
