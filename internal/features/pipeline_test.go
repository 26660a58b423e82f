package features

import (
	"math"
	"testing"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

func sineFrame(rate float64, freq float64, n int) *domain.RawFrame {
	pos := make([]domain.Sample, n)
	neg := make([]domain.Sample, n)
	for i := 0; i < n; i++ {
		t := float64(i) / rate
		pos[i] = domain.Sample(2000 * math.Sin(2*math.Pi*freq*t))
		neg[i] = 0
	}
	return &domain.RawFrame{
		SampleRateHz: rate,
		Channels: map[uint8][]domain.Sample{
			0: pos,
			1: neg,
		},
	}
}

func TestPipelineRunProducesOneSamplePerFreqChannel(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	opts := DefaultOptions([]float64{8, 20})
	opts.MirrorMs = 200 // keep the test fast; below the 349-sample wavelet support at 8 Hz (width 5), so Run only warns

	pairs := []domain.BipolarPair{{Pos: 0, Neg: 1}}
	p := New(log, pairs, opts)

	frame := sineFrame(1000, 10, 2000)
	out, err := p.Run(frame)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(out.Data) != 2 {
		t.Fatalf("expected 2 frequencies, got %d", len(out.Data))
	}
	for fi := range out.Data {
		if len(out.Data[fi]) != 1 {
			t.Fatalf("expected 1 channel, got %d", len(out.Data[fi]))
		}
		if len(out.Data[fi][0]) != 1 {
			t.Fatalf("expected time-averaged length 1, got %d", len(out.Data[fi][0]))
		}
	}
}

func TestPipelineAcceptsNarrowMirror(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	opts := DefaultOptions([]float64{8})
	opts.MirrorMs = 0 // forces m=0 -> mirrorSamples should still succeed (0 < L) but log a warning

	pairs := []domain.BipolarPair{{Pos: 0, Neg: 1}}
	p := New(log, pairs, opts)

	frame := sineFrame(1000, 10, 500)
	if _, err := p.Run(frame); err != nil {
		t.Fatalf("Run with zero mirror should still succeed, got: %v", err)
	}
}
