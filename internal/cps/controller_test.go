package cps

import (
	"testing"

	"github.com/elemem-bci/elemem/internal/config"
	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// TestLockoutFloorMatchesS7Scenario reproduces S7: a STIM at t=0 with a
// 500ms duration and stim_lockout_ms=2500 pushes the next pre-stim event
// to an absolute time >= 3000ms, even if the naturally-scheduled time
// would have been earlier.
func TestLockoutFloorMatchesS7Scenario(t *testing.T) {
	stimOffsetMs := uint64(0) + 500
	floor := lockoutFloorMs(stimOffsetMs, 2500, 600)
	if floor < 3000 {
		t.Fatalf("expected lockout floor >= 3000ms, got %d", floor)
	}
	if floor != 3000 {
		t.Errorf("expected exact floor 3000ms, got %d", floor)
	}
}

func TestLockoutFloorLeavesLaterScheduleUnchanged(t *testing.T) {
	got := lockoutFloorMs(500, 2500, 5000)
	if got != 5000 {
		t.Errorf("expected unchanged schedule 5000ms, got %d", got)
	}
}

func TestChooseShamExhaustsIndependently(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	c := New(log, DefaultParams(), nil, nil, nil, nil, nil)
	c.stimTrialsRemaining = 1
	c.shamTrialsRemaining = 0

	if c.chooseSham() {
		t.Fatal("expected STIM when sham trials are exhausted")
	}
	if c.stimTrialsRemaining != 0 {
		t.Errorf("expected stim counter decremented, got %d", c.stimTrialsRemaining)
	}
}

func TestProfileFromParamsClampsToSiteLimits(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	channels := []config.ResolvedStimChannel{
		{Pos: 1, Neg: 2, Limits: domain.SiteLimits{MaxAmplitudeUA: 2000, MinFrequencyHz: 10, MaxFrequencyHz: 100, MinDurationUs: 100000, MaxDurationUs: 500000}},
	}
	c := New(log, DefaultParams(), nil, nil, nil, channels, nil)

	profile := c.profileFromParams([]float64{5, 500, 1000})
	if len(profile) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(profile))
	}
	ch := profile[0]
	if ch.AmplitudeUA != 2000 {
		t.Errorf("expected amplitude clamped to 2000uA, got %d", ch.AmplitudeUA)
	}
	if ch.FrequencyHz != 100 {
		t.Errorf("expected frequency clamped to 100Hz, got %d", ch.FrequencyHz)
	}
	if ch.DurationUs != 500000 {
		t.Errorf("expected duration clamped to 500000us, got %d", ch.DurationUs)
	}
}

func TestStimParamMappingRoundsToHundredMicroampGranularity(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	channels := []config.ResolvedStimChannel{
		{Pos: 1, Neg: 2, Limits: domain.SiteLimits{MaxAmplitudeUA: 65000, MinFrequencyHz: 0, MaxFrequencyHz: 1000, MinDurationUs: 0, MaxDurationUs: 1000000}},
	}
	c := New(log, DefaultParams(), nil, nil, nil, channels, nil)

	profile := c.profileFromParams([]float64{1.23, 50, 100})
	// amplitude_uA = round(1.23*10)*100 = round(12.3)*100 = 12*100 = 1200
	if profile[0].AmplitudeUA != 1200 {
		t.Errorf("expected 1200uA, got %d", profile[0].AmplitudeUA)
	}
}

func TestBeatsShamCriterionRequiresAtLeastTwoSamplesPerGroup(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	c := New(log, DefaultParams(), nil, nil, nil, nil, nil)
	c.stimBiomarkers = []float64{1.0}
	c.shamBiomarkers = []float64{0.1}

	if c.beatsShamCriterion() {
		t.Fatal("expected false with fewer than 2 samples per group")
	}
}

func TestBeatsShamCriterionFalseWhenStimDoesNotExceedSham(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	c := New(log, DefaultParams(), nil, nil, nil, nil, nil)
	c.stimBiomarkers = []float64{0.1, 0.12, 0.09}
	c.shamBiomarkers = []float64{0.5, 0.52, 0.49}

	if c.beatsShamCriterion() {
		t.Fatal("expected false when stim mean does not exceed sham mean")
	}
}

func TestBeatsShamCriterionTrueForClearSeparation(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	c := New(log, DefaultParams(), nil, nil, nil, nil, nil)
	c.params.BeatShamPValue = 0.05
	c.stimBiomarkers = []float64{0.80, 0.82, 0.79, 0.81, 0.83}
	c.shamBiomarkers = []float64{0.10, 0.12, 0.09, 0.11, 0.08}

	if !c.beatsShamCriterion() {
		t.Fatal("expected true for a clearly separated, low-variance pair of groups")
	}
}

func TestBeatsShamCriterionFalseForOverlappingNoisyGroups(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	c := New(log, DefaultParams(), nil, nil, nil, nil, nil)
	c.params.BeatShamPValue = 0.05
	c.stimBiomarkers = []float64{0.1, 0.9, 0.2, 0.8, 0.3}
	c.shamBiomarkers = []float64{0.15, 0.85, 0.25, 0.75, 0.2}

	if c.beatsShamCriterion() {
		t.Fatal("expected false for noisy, overlapping groups")
	}
}
