package domain

import "testing"

func TestStimProfileValidateRejectsEmptyProfile(t *testing.T) {
	var p StimProfile
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for empty profile, got nil")
	}
}

func TestStimProfileValidateRejectsTooManyPairs(t *testing.T) {
	p := make(StimProfile, MaxStimPairs+1)
	for i := range p {
		p[i] = StimChannel{ElectrodePos: uint8(2 * i), ElectrodeNeg: uint8(2*i + 1), FrequencyHz: 100, DurationUs: 1000}
	}
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for profile exceeding MaxStimPairs, got nil")
	}
}

func TestStimProfileValidateRejectsReusedElectrode(t *testing.T) {
	p := StimProfile{
		{ElectrodePos: 1, ElectrodeNeg: 2, FrequencyHz: 100, DurationUs: 1_000_000},
		{ElectrodePos: 1, ElectrodeNeg: 3, FrequencyHz: 100, DurationUs: 1_000_000},
	}
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for an electrode reused across channels, got nil")
	}
}

func TestStimProfileValidateRejectsSelfPair(t *testing.T) {
	p := StimProfile{{ElectrodePos: 1, ElectrodeNeg: 1, FrequencyHz: 100, DurationUs: 1000}}
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for pos == neg, got nil")
	}
}

func TestStimProfileValidateRejectsPulseCountOutOfRange(t *testing.T) {
	// duration_us * frequency_hz / 1e6 must be in [1,255].
	tooFew := StimProfile{{ElectrodePos: 1, ElectrodeNeg: 2, FrequencyHz: 1, DurationUs: 100}}
	if err := tooFew.Validate(nil); err == nil {
		t.Fatal("expected error for pulse count below MinPulseCount, got nil")
	}

	tooMany := StimProfile{{ElectrodePos: 1, ElectrodeNeg: 2, FrequencyHz: 1_000_000, DurationUs: 1_000_000}}
	if err := tooMany.Validate(nil); err == nil {
		t.Fatal("expected error for pulse count above MaxPulseCount, got nil")
	}
}

func TestStimProfileValidateRejectsBurstFracWithoutSlowFreq(t *testing.T) {
	p := StimProfile{{ElectrodePos: 1, ElectrodeNeg: 2, FrequencyHz: 100, DurationUs: 1000, BurstFrac: 0.5}}
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for burst_frac != 1 with burst_slow_freq == 0, got nil")
	}
}

func TestStimProfileValidateEnforcesSiteLimits(t *testing.T) {
	limits := &SiteLimits{MaxAmplitudeUA: 1000, MinFrequencyHz: 10, MaxFrequencyHz: 200, MinDurationUs: 100, MaxDurationUs: 2_000_000}
	p := StimProfile{{ElectrodePos: 1, ElectrodeNeg: 2, AmplitudeUA: 2000, FrequencyHz: 100, DurationUs: 1_000_000}}
	if err := p.Validate(limits); err == nil {
		t.Fatal("expected error for amplitude exceeding site limit, got nil")
	}
}

func TestStimProfileValidateRejectsTooManyUniqueTriples(t *testing.T) {
	p := make(StimProfile, MaxStimTriples+1)
	for i := range p {
		p[i] = StimChannel{
			ElectrodePos: uint8(2 * i), ElectrodeNeg: uint8(2*i + 1),
			AmplitudeUA: uint16(100 + i), FrequencyHz: 100, DurationUs: 1_000_000,
		}
	}
	if err := p.Validate(nil); err == nil {
		t.Fatal("expected error for more unique triples than MaxStimTriples, got nil")
	}
}

func TestStimProfileValidateAcceptsWellFormedProfile(t *testing.T) {
	p := StimProfile{
		{ElectrodePos: 1, ElectrodeNeg: 2, AmplitudeUA: 500, FrequencyHz: 100, DurationUs: 1_000_000},
		{ElectrodePos: 3, ElectrodeNeg: 4, AmplitudeUA: 500, FrequencyHz: 100, DurationUs: 1_000_000},
	}
	if err := p.Validate(nil); err != nil {
		t.Fatalf("expected a well-formed profile to validate, got %v", err)
	}
}

func TestStimProfileMaxDurationUs(t *testing.T) {
	p := StimProfile{
		{DurationUs: 500},
		{DurationUs: 1500},
		{DurationUs: 900},
	}
	if got := p.MaxDurationUs(); got != 1500 {
		t.Errorf("MaxDurationUs() = %d, want 1500", got)
	}
}

func TestStimChannelWithDefaults(t *testing.T) {
	s := StimChannel{}
	got := s.WithDefaults()
	if got.BurstFrac != 1 {
		t.Errorf("BurstFrac = %v, want default 1", got.BurstFrac)
	}

	nonZero := StimChannel{BurstFrac: 0.3}
	if got := nonZero.WithDefaults(); got.BurstFrac != 0.3 {
		t.Errorf("BurstFrac = %v, want unchanged 0.3", got.BurstFrac)
	}
}

func TestStimChannelPulseCount(t *testing.T) {
	s := StimChannel{FrequencyHz: 100, DurationUs: 1_000_000}
	if got := s.PulseCount(); got != 100 {
		t.Errorf("PulseCount() = %v, want 100", got)
	}
}

func TestBipolarPairValidateRejectsSelfPair(t *testing.T) {
	p := BipolarPair{Pos: 5, Neg: 5}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for identical electrodes, got nil")
	}
}

func TestBipolarPairValidateAcceptsDistinctElectrodes(t *testing.T) {
	p := BipolarPair{Pos: 5, Neg: 6}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected distinct electrodes to validate, got %v", err)
	}
}
