package window

import (
	"testing"

	"github.com/elemem-bci/elemem/internal/domain"
)

func frameOf(rate float64, ch uint8, values ...int16) *domain.RawFrame {
	samples := make([]domain.Sample, len(values))
	for i, v := range values {
		samples[i] = domain.Sample(v)
	}
	return &domain.RawFrame{
		SampleRateHz: rate,
		Channels:     map[uint8][]domain.Sample{ch: samples},
	}
}

func TestRingSnapshotAmountBeforeWrap(t *testing.T) {
	r := New(10)
	if err := r.Append(frameOf(1000, 0, 1, 2, 3), 0, 3); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := r.SnapshotAmount(10)
	got := snap.Channels[0]
	if len(got) != 3 {
		t.Fatalf("expected min(T,C)=3 samples, got %d", len(got))
	}
	want := []int16{1, 2, 3}
	for i, w := range want {
		if int16(got[i]) != w {
			t.Errorf("sample %d: got %d want %d", i, got[i], w)
		}
	}
}

func TestRingSnapshotZeroPadsBeforeWrap(t *testing.T) {
	r := New(5)
	if err := r.Append(frameOf(1000, 0, 7, 8), 0, 2); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := r.Snapshot()
	got := snap.Channels[0]
	if len(got) != 5 {
		t.Fatalf("expected full capacity length 5, got %d", len(got))
	}
	want := []int16{0, 0, 0, 7, 8}
	for i, w := range want {
		if int16(got[i]) != w {
			t.Errorf("sample %d: got %d want %d", i, got[i], w)
		}
	}
}

func TestRingWrapChronologicalOrder(t *testing.T) {
	r := New(4)
	// Append 1,2,3,4,5,6 one at a time; capacity 4 so ring should hold 3,4,5,6.
	for i := int16(1); i <= 6; i++ {
		if err := r.Append(frameOf(1000, 0, i), 0, 1); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	snap := r.Snapshot()
	got := snap.Channels[0]
	want := []int16{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("length: got %d want %d", len(got), len(want))
	}
	for i, w := range want {
		if int16(got[i]) != w {
			t.Errorf("sample %d: got %d want %d", i, got[i], w)
		}
	}
}

func TestRingChannelCountMismatchRejected(t *testing.T) {
	r := New(10)
	if err := r.Append(frameOf(1000, 0, 1), 0, 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	mismatched := &domain.RawFrame{
		SampleRateHz: 1000,
		Channels: map[uint8][]domain.Sample{
			0: {1},
			1: {2},
		},
	}
	if err := r.Append(mismatched, 0, 1); err == nil {
		t.Fatal("expected bounds error on channel count mismatch")
	}
}

func TestRingInvariantMinTC(t *testing.T) {
	capacities := []int{1, 3, 10}
	totals := []int{0, 2, 5, 10, 23}
	for _, c := range capacities {
		for _, total := range totals {
			r := New(c)
			for i := 0; i < total; i++ {
				if err := r.Append(frameOf(1000, 0, int16(i)), 0, 1); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			snap := r.SnapshotAmount(c)
			wantLen := total
			if wantLen > c {
				wantLen = c
			}
			if len(snap.Channels[0]) != wantLen {
				t.Errorf("capacity=%d total=%d: snapshot length = %d, want %d", c, total, len(snap.Channels[0]), wantLen)
			}
		}
	}
}

func TestStartAmountBoundsError(t *testing.T) {
	r := New(5)
	if err := r.Append(frameOf(1000, 0, 1, 2), 10, 1); err == nil {
		t.Fatal("expected bounds error for out-of-range start")
	}
}
