package classifier

import (
	"math"
	"testing"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

func TestClassifyZeroInputSigmoidOfBias(t *testing.T) {
	c := NewLogisticRegression(logger.New(logger.LevelOff, nil), []float64{1, -1, 2}, 0.5)
	score, err := c.Classify([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := 1 / (1 + math.Exp(-0.5))
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestClassifyRejectsLengthMismatch(t *testing.T) {
	c := NewLogisticRegression(logger.New(logger.LevelOff, nil), []float64{1, 2}, 0)
	if _, err := c.Classify([]float64{1}); err == nil {
		t.Fatal("expected bounds error on length mismatch")
	}
}

func TestRegisterCallbackRejectsNil(t *testing.T) {
	c := NewLogisticRegression(logger.New(logger.LevelOff, nil), []float64{1}, 0)
	if err := c.RegisterCallback("x", nil); err == nil {
		t.Fatal("expected error registering nil callback")
	}
}

func TestNotifyInvokesAllRegisteredCallbacks(t *testing.T) {
	c := NewLogisticRegression(logger.New(logger.LevelOff, nil), []float64{1}, 0)
	var gotA, gotB float64
	c.RegisterCallback("a", func(s domain.TaskClassifierSettings, score float64) { gotA = score })
	c.RegisterCallback("b", func(s domain.TaskClassifierSettings, score float64) { gotB = score })

	c.Notify(domain.TaskClassifierSettings{}, 0.75)

	if gotA != 0.75 || gotB != 0.75 {
		t.Errorf("expected both callbacks to receive 0.75, got a=%v b=%v", gotA, gotB)
	}
}

func TestRemoveCallbackIsIdempotent(t *testing.T) {
	c := NewLogisticRegression(logger.New(logger.LevelOff, nil), []float64{1}, 0)
	c.RemoveCallback("missing")
	c.RemoveCallback("missing")
}
