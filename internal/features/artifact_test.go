package features

import (
	"testing"

	"github.com/elemem-bci/elemem/internal/domain"
)

func TestDetectArtifactsMarksConstantChannel(t *testing.T) {
	// A constant signal has an all-zero 10th difference, every sample,
	// so it must exceed the default threshold of 10 on a long enough run.
	constant := make([]float64, 64)
	for i := range constant {
		constant[i] = 7
	}
	varying := make([]float64, 64)
	for i := range varying {
		varying[i] = float64(uint64(1) << uint(i))
	}

	frame := &domain.DoubleFrame{
		SampleRateHz: 1000,
		Channels: map[uint8][]float64{
			0: constant,
			1: varying,
		},
	}

	marked, err := detectArtifacts(frame, 10, 10)
	if err != nil {
		t.Fatalf("detectArtifacts: %v", err)
	}
	if !marked[0] {
		t.Error("expected constant channel 0 to be marked as an artifact")
	}
	if marked[1] {
		t.Error("expected varying channel 1 to not be marked")
	}
}

func TestDetectArtifactsMarksEmptyChannel(t *testing.T) {
	frame := &domain.DoubleFrame{
		SampleRateHz: 1000,
		Channels:     map[uint8][]float64{0: {}},
	}
	marked, err := detectArtifacts(frame, 10, 10)
	if err != nil {
		t.Fatalf("detectArtifacts: %v", err)
	}
	if !marked[0] {
		t.Error("expected empty channel to be marked")
	}
}

func TestDetectArtifactsRejectsOrderTooLarge(t *testing.T) {
	frame := &domain.DoubleFrame{
		SampleRateHz: 1000,
		Channels:     map[uint8][]float64{0: {1, 2, 3}},
	}
	if _, err := detectArtifacts(frame, 10, 1); err == nil {
		t.Fatal("expected bounds error when order >= length")
	}
}
