package acquisition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// tickSource emits one fixed frame per Poll call, counting calls so
// tests can bound how many ticks to wait for.
type tickSource struct {
	mu      sync.Mutex
	frame   domain.RawFrame
	polls   int
	failAt  int // Poll call index (1-based) that returns an error, 0 = never
}

func (s *tickSource) Initialize(ctx context.Context, channels []uint8) error { return nil }
func (s *tickSource) SamplingRateHz() float64                                 { return 1000 }
func (s *tickSource) Close() error                                            { return nil }

func (s *tickSource) Poll(ctx context.Context) (*domain.RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.failAt != 0 && s.polls == s.failAt {
		return nil, domain.NewDeviceError("test", "simulated failure", nil)
	}
	frame := s.frame
	chCopy := make(map[uint8][]domain.Sample, len(frame.Channels))
	for ch, v := range frame.Channels {
		chCopy[ch] = append([]domain.Sample(nil), v...)
	}
	frame.Channels = chCopy
	return &frame, nil
}

func TestFanOutDeliversIdenticalFramesToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &tickSource{frame: domain.RawFrame{
		SampleRateHz: 1000,
		Channels:     map[uint8][]domain.Sample{0: {1, 2, 3}},
	}}

	h := New(logger.New(logger.LevelOff, nil), 10*time.Millisecond)
	go h.Run(ctx)

	if err := h.SetSource(ctx, source); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if err := h.InitializeChannels(ctx, []uint8{0}); err != nil {
		t.Fatalf("InitializeChannels: %v", err)
	}

	var muA, muB sync.Mutex
	var gotA, gotB [][]domain.Sample

	done := make(chan struct{})
	var once sync.Once

	collect := func(mu *sync.Mutex, dst *[][]domain.Sample) domain.FrameSubscriber {
		return func(frame *domain.RawFrame) {
			mu.Lock()
			*dst = append(*dst, frame.Channels[0])
			n := len(*dst)
			mu.Unlock()
			if n >= 3 {
				once.Do(func() { close(done) })
			}
		}
	}

	if err := h.RegisterCallback(ctx, "a", collect(&muA, &gotA)); err != nil {
		t.Fatalf("RegisterCallback a: %v", err)
	}
	if err := h.RegisterCallback(ctx, "b", collect(&muB, &gotB)); err != nil {
		t.Fatalf("RegisterCallback b: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for 3 deliveries to both subscribers")
	}

	muA.Lock()
	muB.Lock()
	defer muA.Unlock()
	defer muB.Unlock()

	if len(gotA) < 3 || len(gotB) < 3 {
		t.Fatalf("expected >=3 deliveries each, got a=%d b=%d", len(gotA), len(gotB))
	}
	for i := 0; i < 3; i++ {
		if len(gotA[i]) != 3 || len(gotB[i]) != 3 {
			t.Fatalf("frame %d: expected 3 samples, got a=%d b=%d", i, len(gotA[i]), len(gotB[i]))
		}
		for j := 0; j < 3; j++ {
			if gotA[i][j] != gotB[i][j] {
				t.Errorf("frame %d sample %d: subscribers disagree: %v vs %v", i, j, gotA[i][j], gotB[i][j])
			}
		}
	}
}

func TestRegisterCallbackRejectsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New(logger.New(logger.LevelOff, nil), 10*time.Millisecond)
	go h.Run(ctx)

	if err := h.RegisterCallback(ctx, "a", nil); err == nil {
		t.Fatal("expected error registering nil callback")
	}
}

func TestRemoveCallbackIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New(logger.New(logger.LevelOff, nil), 10*time.Millisecond)
	go h.Run(ctx)

	if err := h.RemoveCallback(ctx, "missing"); err != nil {
		t.Fatalf("RemoveCallback on unknown tag should be a no-op, got: %v", err)
	}
}

func TestPollErrorStopsReportingAfterOne(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &tickSource{
		frame: domain.RawFrame{
			SampleRateHz: 1000,
			Channels:     map[uint8][]domain.Sample{0: {1}},
		},
		failAt: 1,
	}

	h := New(logger.New(logger.LevelOff, nil), 10*time.Millisecond)
	go h.Run(ctx)

	if err := h.SetSource(ctx, source); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if err := h.InitializeChannels(ctx, []uint8{0}); err != nil {
		t.Fatalf("InitializeChannels: %v", err)
	}

	var n int
	var mu sync.Mutex
	h.RegisterCallback(ctx, "a", func(frame *domain.RawFrame) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if n != 0 {
		t.Errorf("expected 0 deliveries after immediate poll failure, got %d", n)
	}
}
