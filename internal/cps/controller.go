// Package cps implements C9, the closed-loop parameter search experiment
// controller: the session-level state machine {NORMALIZE -> pre-stim
// classify -> STIM/SHAM -> post-stim classify -> Bayesian update -> next
// event} with timing lockouts (spec.md §4.9). It drives C7 (arming
// classification triggers) and C8 (programming and firing stimulation),
// and reports one record per event to an EventSink (C10).
package cps

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/elemem-bci/elemem/internal/bayes"
	"github.com/elemem-bci/elemem/internal/config"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
	"github.com/elemem-bci/elemem/internal/stim"
	"github.com/elemem-bci/elemem/internal/taskclassifier"
)

// pollInterval bounds how often wait_until re-checks the stop flag, per
// spec.md §5 ("breakable in <=50ms to observe stop requests").
const pollInterval = 50 * time.Millisecond

// Clock abstracts the wall-clock reading that anchors sessionStart at
// Run's entry. New always installs the real clock, and waitUntil measures
// the remaining time with time.Until, so every wait is a real sleep.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Params holds the CPS configuration knobs of spec.md §4.9.
type Params struct {
	ExperimentDurationMs     uint64
	NNormalizeEvents         int
	ClassifyMs               uint64
	PoststimClassifLockoutMs uint64
	StimLockoutMs            uint64
	NormalizeLockoutMs       uint64
	IntertrialRangeMs        [2]uint64
	ShamDurationMs           uint64
	BinnedSamplingRate       uint32
	NumStimTrials            int
	NumShamTrials            int
	ClassifyThreshold        float64
	BeatShamPValue           float64
}

// DefaultParams returns the defaults documented in spec.md §4.9.
func DefaultParams() Params {
	return Params{
		NNormalizeEvents:         25,
		ClassifyMs:               1350,
		PoststimClassifLockoutMs: 500,
		StimLockoutMs:            2500,
		NormalizeLockoutMs:       3000,
		ClassifyThreshold:        0.5,
		BeatShamPValue:           0.05,
	}
}

// ParamsFromExperimentSpecs overlays the config's experiment_specs onto
// DefaultParams, leaving the lockout/classify_ms/n_normalize_events
// fields at their spec defaults (the config schema of spec.md §6 does
// not carry those).
func ParamsFromExperimentSpecs(specs config.ExperimentSpecs, experimentDurationMs uint64, binnedRate uint32) Params {
	p := DefaultParams()
	p.ExperimentDurationMs = experimentDurationMs
	p.NumStimTrials = specs.NumStimTrials
	p.NumShamTrials = specs.NumShamTrials
	p.IntertrialRangeMs = [2]uint64{uint64(specs.IntertrialRangeMs[0]), uint64(specs.IntertrialRangeMs[1])}
	p.ShamDurationMs = uint64(specs.ShamDurationMs)
	p.BinnedSamplingRate = binnedRate
	return p
}

// EventRecord is the per-event log record of spec.md §4.9.
type EventRecord struct {
	TimestampMs uint64
	ClType      domain.ClassifierType
	ClassifID   uint64
	StimProfile domain.StimProfile // only set on STIM/SHAM events
	Score       float64
	Biomarker   *float64
	ModelIdx    int
}

// EventSink receives one EventRecord per CPS event and is told when the
// experiment terminates, alongside the best-so-far profile.
type EventSink interface {
	LogEvent(EventRecord)
	Terminate(best domain.StimProfile, beatSham bool)
}

// classificationResult is delivered asynchronously by taskclassifier's
// ResultHandler callback.
type classificationResult struct {
	settings domain.TaskClassifierSettings
	score    float64
	err      error
}

// Controller is C9.
type Controller struct {
	log        *logger.Logger
	params     Params
	classifier *taskclassifier.Manager
	stimWorker *stim.Worker
	optimizer  bayes.Optimizer
	channels   []config.ResolvedStimChannel
	sink       EventSink
	clock      Clock
	rng        *rand.Rand

	resultCh     chan classificationResult
	nextID       uint64
	stopped      bool
	sessionStart time.Time

	stimTrialsRemaining int
	shamTrialsRemaining int

	stimBiomarkers []float64
	shamBiomarkers []float64
}

// New creates a CPS controller. channels is the resolved stim-channel
// template (from config.ResolvedStimChannel) the Bayesian-proposed
// (amplitude_mA, frequency_Hz, duration_ms) vector is mapped onto,
// clamped per-channel to its own site limits.
func New(log *logger.Logger, params Params, classifier *taskclassifier.Manager, stimWorker *stim.Worker, optimizer bayes.Optimizer, channels []config.ResolvedStimChannel, sink EventSink) *Controller {
	return &Controller{
		log:                 log,
		params:              params,
		classifier:          classifier,
		stimWorker:          stimWorker,
		optimizer:           optimizer,
		channels:            channels,
		sink:                sink,
		clock:               realClock{},
		rng:                 rand.New(rand.NewSource(1)),
		resultCh:            make(chan classificationResult, 1),
		stimTrialsRemaining: params.NumStimTrials,
		shamTrialsRemaining: params.NumShamTrials,
	}
}

// OnClassificationResult is the taskclassifier.ResultHandler the session
// root registers with C7; it hands the result to the controller's own
// loop rather than running on the caller's goroutine.
func (c *Controller) OnClassificationResult(settings domain.TaskClassifierSettings, score float64, err error) {
	select {
	case c.resultCh <- classificationResult{settings: settings, score: score, err: err}:
	default:
		c.log.Warn("cps: dropped classification result, controller not waiting")
	}
}

// Run executes the full session state machine until the experiment
// duration elapses or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.sessionStart = c.clock.Now()
	elapsedMs := uint64(0)

	for i := 0; i < c.params.NNormalizeEvents; i++ {
		if c.stopAt(ctx, elapsedMs) {
			return
		}
		if err := c.waitUntil(ctx, elapsedMs); err != nil {
			return
		}
		if _, _, err := c.classify(ctx, domain.ClassifierNORMALIZE, c.params.ClassifyMs, elapsedMs); err != nil {
			c.log.Error("cps: normalize event failed: %v", err)
			return
		}
		elapsedMs += c.params.ClassifyMs + c.params.NormalizeLockoutMs
	}

	var lastStimOffsetMs uint64
	haveStim := false

	for {
		if haveStim {
			elapsedMs = lockoutFloorMs(lastStimOffsetMs, c.params.StimLockoutMs, elapsedMs)
		}
		if c.stopAt(ctx, elapsedMs) {
			return
		}
		if err := c.waitUntil(ctx, elapsedMs); err != nil {
			return
		}

		preScore, preID, err := c.classify(ctx, domain.ClassifierSTIM, c.params.ClassifyMs, elapsedMs)
		if err != nil {
			c.log.Error("cps: pre-stim classify failed: %v", err)
			return
		}
		elapsedMs += c.params.ClassifyMs

		if preScore >= c.params.ClassifyThreshold {
			elapsedMs += c.intertrialDelayMs()
			continue
		}

		sham := c.chooseSham()
		profile := c.buildProfile()
		stimOffsetMs := elapsedMs
		durationMs := c.params.ClassifyMs // placeholder until profile max duration below
		if len(profile) > 0 {
			durationMs = uint64(profile.MaxDurationUs()) / 1000
		}

		clType := domain.ClassifierSTIM
		if sham {
			clType = domain.ClassifierSHAM
			durationMs = c.params.ShamDurationMs
		}

		c.sink.LogEvent(EventRecord{TimestampMs: stimOffsetMs, ClType: clType, ClassifID: preID, StimProfile: profile, Score: preScore})

		if !sham {
			if err := c.fireStim(ctx, profile); err != nil {
				c.log.Error("cps: stim failed: %v", err)
				return
			}
		}

		elapsedMs += durationMs
		lastStimOffsetMs = elapsedMs
		haveStim = true

		elapsedMs += c.params.PoststimClassifLockoutMs
		if c.stopAt(ctx, elapsedMs) {
			return
		}
		if err := c.waitUntil(ctx, elapsedMs); err != nil {
			return
		}

		postScore, postID, err := c.classify(ctx, domain.ClassifierNOSTIM, c.params.ClassifyMs, elapsedMs)
		if err != nil {
			c.log.Error("cps: post-stim classify failed: %v", err)
			return
		}
		elapsedMs += c.params.ClassifyMs

		biomarker := postScore - preScore
		c.sink.LogEvent(EventRecord{TimestampMs: elapsedMs, ClType: domain.ClassifierNOSTIM, ClassifID: postID, Score: postScore, Biomarker: &biomarker})

		if sham {
			// prev_sham=true: logged either way, but the model is not
			// updated (spec.md §4.9 sham handling).
			c.shamBiomarkers = append(c.shamBiomarkers, biomarker)
		} else {
			c.optimizer.AddSample(c.profileParams(profile), biomarker)
			c.stimBiomarkers = append(c.stimBiomarkers, biomarker)
		}

		elapsedMs += c.intertrialDelayMs()
	}
}

// lockoutFloorMs applies the lockout rule of spec.md §4.9: the next
// pre-stim classify must start no earlier than stim_offset +
// stim_lockout_ms. scheduledMs is raised to that floor if it falls
// short; otherwise it is returned unchanged.
func lockoutFloorMs(stimOffsetMs, stimLockoutMs, scheduledMs uint64) uint64 {
	floor := stimOffsetMs + stimLockoutMs
	if scheduledMs < floor {
		return floor
	}
	return scheduledMs
}

// waitUntil cooperatively sleeps until targetMs has elapsed since the
// session started, polling at pollInterval so a cancelled ctx is
// observed within <=50ms (spec.md §5 suspension points).
func (c *Controller) waitUntil(ctx context.Context, targetMs uint64) error {
	deadline := c.sessionStart.Add(time.Duration(targetMs) * time.Millisecond)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := remaining
		if wait > pollInterval {
			wait = pollInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.stopped = true
			return ctx.Err()
		case <-t.C:
		}
	}
}

// stopAt checks the termination condition of spec.md §4.9: once the
// next scheduled event time exceeds experiment_duration_ms, report the
// best-so-far profile and the beat-sham result through sink.Terminate
// (which the session handler logs as STOP before stopping the session).
func (c *Controller) stopAt(ctx context.Context, scheduledMs uint64) bool {
	if c.stopped {
		return true
	}
	if scheduledMs > c.params.ExperimentDurationMs {
		best := c.optimizer.Best()
		beatSham := c.beatsShamCriterion()
		profile := c.profileFromParams(best)
		c.sink.Terminate(profile, beatSham)
		c.stopped = true
		return true
	}
	select {
	case <-ctx.Done():
		c.stopped = true
		return true
	default:
		return false
	}
}

// classify arms a trigger on C7 and blocks (cooperatively, observing
// ctx) for its asynchronous result.
func (c *Controller) classify(ctx context.Context, clType domain.ClassifierType, durationMs uint64, nowMs uint64) (score float64, classifID uint64, err error) {
	c.nextID++
	id := c.nextID

	if err := c.classifier.ProcessClassifierEvent(ctx, clType, durationMs, id, c.params.BinnedSamplingRate); err != nil {
		return 0, id, err
	}

	deadline := time.Duration(durationMs+2000) * time.Millisecond
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-c.resultCh:
		return res.score, id, res.err
	case <-timer.C:
		return 0, id, fmt.Errorf("cps: timed out waiting for classification %d", id)
	case <-ctx.Done():
		return 0, id, ctx.Err()
	}
}

// chooseSham decides STIM vs SHAM, weighted by the remaining trial
// counts from experiment_specs (spec.md §6's num_stim_trials /
// num_sham_trials). When both are exhausted, defaults to STIM.
func (c *Controller) chooseSham() bool {
	total := c.stimTrialsRemaining + c.shamTrialsRemaining
	if total <= 0 {
		return false
	}
	pick := c.rng.Intn(total)
	sham := pick >= c.stimTrialsRemaining
	if sham {
		c.shamTrialsRemaining--
	} else {
		c.stimTrialsRemaining--
	}
	return sham
}

func (c *Controller) intertrialDelayMs() uint64 {
	lo, hi := c.params.IntertrialRangeMs[0], c.params.IntertrialRangeMs[1]
	if hi <= lo {
		return lo
	}
	return lo + uint64(c.rng.Int63n(int64(hi-lo+1)))
}

// buildProfile maps the optimizer's next proposed parameter vector onto
// the configured stim channels, per spec.md §4.9's stim parameter
// mapping: amplitude_uA = round(mA*10)*100, clamped per-channel to that
// channel's site limits.
func (c *Controller) buildProfile() domain.StimProfile {
	return c.profileFromParams(c.optimizer.Next())
}

func (c *Controller) profileFromParams(params []float64) domain.StimProfile {
	if len(params) < 3 || len(c.channels) == 0 {
		return nil
	}
	amplitudeMA, frequencyHz, durationMs := params[0], params[1], params[2]

	profile := make(domain.StimProfile, len(c.channels))
	for i, ch := range c.channels {
		amplitudeUA := uint16(math.Round(amplitudeMA*10) * 100)
		amplitudeUA = clampU16(amplitudeUA, 0, ch.Limits.MaxAmplitudeUA)
		frequency := clampU32(uint32(math.Round(frequencyHz)), ch.Limits.MinFrequencyHz, ch.Limits.MaxFrequencyHz)
		durationUs := clampU32(uint32(math.Round(durationMs*1000)), ch.Limits.MinDurationUs, ch.Limits.MaxDurationUs)

		profile[i] = domain.StimChannel{
			ElectrodePos: ch.Pos,
			ElectrodeNeg: ch.Neg,
			AmplitudeUA:  amplitudeUA,
			FrequencyHz:  frequency,
			DurationUs:   durationUs,
			BurstFrac:    float32(ch.BurstFraction),
		}.WithDefaults()
	}
	return profile
}

// profileParams is the inverse of profileFromParams for the purpose of
// feeding the optimizer: it reports the first channel's (amplitude_mA,
// frequency_Hz, duration_ms), since all channels share one proposed
// vector.
func (c *Controller) profileParams(profile domain.StimProfile) []float64 {
	if len(profile) == 0 {
		return []float64{0, 0, 0}
	}
	ch := profile[0]
	return []float64{float64(ch.AmplitudeUA) / 1000, float64(ch.FrequencyHz), float64(ch.DurationUs) / 1000}
}

func (c *Controller) fireStim(ctx context.Context, profile domain.StimProfile) error {
	if err := c.stimWorker.ConfigureStimulation(ctx, profile); err != nil {
		return err
	}
	return c.stimWorker.Stimulate(ctx)
}

// beatsShamCriterion reports whether the accumulated stim-trial
// biomarkers beat sham-trial biomarkers at the configured p-value
// threshold, per spec.md §4.9's termination rule: a Welch's t-test
// (unequal variances) against params.BeatShamPValue, requiring the stim
// mean to exceed the sham mean. Reports false until both groups have at
// least two samples, since variance is undefined below that.
func (c *Controller) beatsShamCriterion() bool {
	if len(c.stimBiomarkers) < 2 || len(c.shamBiomarkers) < 2 {
		return false
	}

	stimMean, stimVar := stat.MeanVariance(c.stimBiomarkers, nil)
	shamMean, shamVar := stat.MeanVariance(c.shamBiomarkers, nil)
	if stimMean <= shamMean {
		return false
	}

	n1, n2 := float64(len(c.stimBiomarkers)), float64(len(c.shamBiomarkers))
	se := math.Sqrt(stimVar/n1 + shamVar/n2)
	if se == 0 {
		return true
	}

	t := (stimMean - shamMean) / se
	df := welchDF(stimVar, n1, shamVar, n2)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))

	return p < c.params.BeatShamPValue
}

// welchDF is the Welch-Satterthwaite degrees-of-freedom approximation
// for a two-sample t-test with unequal variances.
func welchDF(v1, n1, v2, n2 float64) float64 {
	num := v1/n1 + v2/n2
	num *= num
	den := (v1*v1)/(n1*n1*(n1-1)) + (v2*v2)/(n2*n2*(n2-1))
	if den == 0 {
		return 1
	}
	return num / den
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
