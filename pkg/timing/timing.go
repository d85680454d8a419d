// Package timing attributes phase attempt wall time to active execution and
// approval wait. Active intervals live only in memory: an interval left open
// by a crash is voided on resume rather than guessed at. Wait intervals
// anchor on the persisted WaitStartedAt so approval waits survive restarts.
package timing

import (
	"time"

	"github.com/dukex/devflow/pkg/models"
)

// Recorder accumulates durations into a single phase record. It is not safe
// for concurrent use; each attempt owns one recorder.
type Recorder struct {
	record      *models.PhaseRecord
	now         func() time.Time
	activeStart *time.Time
}

func NewRecorder(record *models.PhaseRecord) *Recorder {
	return &Recorder{record: record, now: time.Now}
}

// WithClock replaces the clock, for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now

	return r
}

// BeginActive opens an active interval. Opening twice is a no-op.
func (r *Recorder) BeginActive() {
	if r.activeStart != nil {
		return
	}

	t := r.now().UTC()
	r.activeStart = &t
}

// EndActive closes the current active interval and adds it to the record.
// Closing without an open interval is a no-op.
func (r *Recorder) EndActive() {
	if r.activeStart == nil {
		return
	}

	elapsed := r.now().UTC().Sub(*r.activeStart)
	if elapsed > 0 {
		r.record.ActiveDuration += elapsed
	}

	r.activeStart = nil
}

// BeginWait marks the start of an approval wait on the record itself, so the
// interval can be closed after a restart.
func (r *Recorder) BeginWait() {
	if r.record.WaitStartedAt != nil {
		return
	}

	t := r.now().UTC()
	r.record.WaitStartedAt = &t
}

// EndWait closes the wait interval against the persisted start. Negative
// spans from clock skew are clamped to zero.
func (r *Recorder) EndWait() {
	if r.record.WaitStartedAt == nil {
		return
	}

	elapsed := r.now().UTC().Sub(*r.record.WaitStartedAt)
	if elapsed > 0 {
		r.record.WaitDuration += elapsed
	}

	r.record.WaitStartedAt = nil
}

// VoidActive discards an open active interval without attributing its time.
// Called when resuming an attempt whose execution died with the engine.
func (r *Recorder) VoidActive() {
	r.activeStart = nil
}
