// Package eventlog implements C10: an append-only JSON-lines event
// journal with a periodic flush policy (spec.md §4.10), plus the
// Handler session root that constructs and wires C2-C9 (spec.md §9
// design note: "the Handler acts as the session root... represent as a
// construction struct that owns worker handles").
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/elemem-bci/elemem/internal/domain"
	"github.com/elemem-bci/elemem/internal/logger"
)

// Event types emitted by the core (spec.md §6).
const (
	TypeStart        = "START"
	TypeExit         = "EXIT"
	TypeStimming     = "STIMMING"
	TypeStimDecision = "STIM_DECISION"
	TypeShamDecision = "SHAM_DECISION"
	TypeSham         = "SHAM"
	TypeClassify     = "CLASSIFY"

	flushInterval = 5 * time.Second
)

// Event is one event-log line: "at minimum {time, type, data?, id?}"
// (spec.md §6).
type Event struct {
	Time string `json:"time"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Log is the append-only JSON-lines journal. Log file access is
// serialized through this type only (spec.md §5 "shared resources").
type Log struct {
	log  *logger.Logger
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	last time.Time
}

// Open creates or appends to the journal at path.
func Open(log *logger.Logger, path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, domain.NewFormatErrorf("eventlog", "opening %s: %v", path, err)
	}
	w := bufio.NewWriter(f)
	return &Log{
		log:  log,
		f:    f,
		w:    w,
		enc:  json.NewEncoder(w),
		last: time.Time{},
	}, nil
}

// Log appends one event as a JSON line, flushing immediately if more
// than flushInterval has elapsed since the last flush (spec.md §4.10:
// "flush at most every 5s or on explicit close").
func (l *Log) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(event); err != nil {
		return domain.NewFatalError("eventlog", "encoding event", err)
	}

	if l.last.IsZero() || time.Since(l.last) >= flushInterval {
		if err := l.w.Flush(); err != nil {
			return domain.NewFatalError("eventlog", "flushing journal", err)
		}
		l.last = time.Now()
	}
	return nil
}

// Close flushes any buffered lines and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return domain.NewFatalError("eventlog", "flushing journal on close", err)
	}
	return l.f.Close()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
