package timing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/timing"
)

func fakeClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	current := start

	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }

	return now, advance
}

func TestRecorder_ActiveAccumulates(t *testing.T) {
	t.Parallel()

	now, advance := fakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	record := &models.PhaseRecord{}
	recorder := timing.NewRecorder(record).WithClock(now)

	recorder.BeginActive()
	advance(3 * time.Second)
	recorder.EndActive()

	recorder.BeginActive()
	advance(2 * time.Second)
	recorder.EndActive()

	assert.Equal(t, 5*time.Second, record.ActiveDuration)
	assert.Zero(t, record.WaitDuration)
}

func TestRecorder_WaitSurvivesRestart(t *testing.T) {
	t.Parallel()

	now, advance := fakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	record := &models.PhaseRecord{}

	recorder := timing.NewRecorder(record).WithClock(now)
	recorder.BeginWait()
	assert.NotNil(t, record.WaitStartedAt)

	advance(90 * time.Second)

	// A new recorder over the same record stands in for a restarted
	// engine; the wait anchor rides on the record.
	resumed := timing.NewRecorder(record).WithClock(now)
	resumed.EndWait()

	assert.Equal(t, 90*time.Second, record.WaitDuration)
	assert.Nil(t, record.WaitStartedAt)
}

func TestRecorder_VoidActiveDiscardsOpenInterval(t *testing.T) {
	t.Parallel()

	now, advance := fakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	record := &models.PhaseRecord{}
	recorder := timing.NewRecorder(record).WithClock(now)

	recorder.BeginActive()
	advance(time.Hour)
	recorder.VoidActive()
	recorder.EndActive()

	assert.Zero(t, record.ActiveDuration)
}

func TestRecorder_EndWithoutBeginIsNoop(t *testing.T) {
	t.Parallel()

	record := &models.PhaseRecord{}
	recorder := timing.NewRecorder(record)

	recorder.EndActive()
	recorder.EndWait()

	assert.Zero(t, record.ActiveDuration)
	assert.Zero(t, record.WaitDuration)
}

func TestRecorder_ClampsNegativeWait(t *testing.T) {
	t.Parallel()

	now, _ := fakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	record := &models.PhaseRecord{}

	future := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	record.WaitStartedAt = &future

	recorder := timing.NewRecorder(record).WithClock(now)
	recorder.EndWait()

	assert.Zero(t, record.WaitDuration)
	assert.Nil(t, record.WaitStartedAt)
}

func TestRecorder_DoubleBeginActiveKeepsFirstAnchor(t *testing.T) {
	t.Parallel()

	now, advance := fakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	record := &models.PhaseRecord{}
	recorder := timing.NewRecorder(record).WithClock(now)

	recorder.BeginActive()
	advance(2 * time.Second)
	recorder.BeginActive()
	advance(2 * time.Second)
	recorder.EndActive()

	assert.Equal(t, 4*time.Second, record.ActiveDuration)
}
