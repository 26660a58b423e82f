package domain

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := NewBoundsError("window", "index out of range")
	b := NewBoundsError("stim", "amplitude out of range")

	if !errors.Is(a, b) {
		t.Error("two KindBounds errors from different components should match via errors.Is")
	}

	c := NewFormatError("config", "bad json")
	if errors.Is(a, c) {
		t.Error("a KindBounds error should not match a KindFormat error")
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("simulated device fault")
	err := NewDeviceError("device", "write failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause via Unwrap")
	}
}

func TestErrorStringIncludesKindComponentAndMessage(t *testing.T) {
	err := NewProtocolError("stim", "not configured")
	got := err.Error()
	want := "PROTOCOL[stim]: not configured"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("disk full")
	err := NewFatalError("eventlog", "flush failed", cause)
	got := err.Error()
	want := "FATAL[eventlog]: flush failed: disk full"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindBounds:   "BOUNDS",
		KindFormat:   "FORMAT",
		KindDevice:   "DEVICE",
		KindProtocol: "PROTOCOL",
		KindFatal:    "FATAL",
		Kind(99):     "UNKNOWN",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
