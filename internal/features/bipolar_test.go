package features

import (
	"testing"

	"github.com/elemem-bci/elemem/internal/domain"
)

func TestBipolarReferenceExactSubtraction(t *testing.T) {
	frame := &domain.RawFrame{
		SampleRateHz: 1000,
		Channels: map[uint8][]domain.Sample{
			0: {10, 20, 30},
			1: {1, 2, 3},
		},
	}
	pairs := []domain.BipolarPair{{Pos: 0, Neg: 1}}

	out, err := bipolarReference(toDoubleFrame(frame), pairs)
	if err != nil {
		t.Fatalf("bipolarReference: %v", err)
	}
	want := []float64{9.0, 18.0, 27.0}
	got := out.Channels[0]
	if len(got) != len(want) {
		t.Fatalf("length: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestBipolarReferenceRejectsLengthMismatch(t *testing.T) {
	frame := &domain.RawFrame{
		SampleRateHz: 1000,
		Channels: map[uint8][]domain.Sample{
			0: {10, 20, 30},
			1: {1, 2},
		},
	}
	_, err := bipolarReference(toDoubleFrame(frame), []domain.BipolarPair{{Pos: 0, Neg: 1}})
	if err == nil {
		t.Fatal("expected bounds error on length mismatch")
	}
}

func TestBipolarReferenceRejectsMissingChannel(t *testing.T) {
	frame := &domain.RawFrame{
		SampleRateHz: 1000,
		Channels: map[uint8][]domain.Sample{
			0: {10, 20, 30},
		},
	}
	_, err := bipolarReference(toDoubleFrame(frame), []domain.BipolarPair{{Pos: 0, Neg: 1}})
	if err == nil {
		t.Fatal("expected bounds error on missing channel")
	}
}
