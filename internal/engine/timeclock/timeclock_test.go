package timeclock

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obraflow/internal/domain"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func ev(kind domain.TimeEventKind, offset time.Duration) domain.TimeEvent {
	return domain.TimeEvent{WorkerID: "w1", Kind: kind, At: t0.Add(offset)}
}

func TestReconstructNoEvents(t *testing.T) {
	st := Reconstruct(nil, t0)
	assert.Equal(t, Idle, st.Status)
	assert.Zero(t, st.Elapsed)
}

func TestReconstructPauseAndResume(t *testing.T) {
	events := []domain.TimeEvent{
		ev(domain.TimeStart, 0),
		ev(domain.TimePause, 600000*time.Millisecond),
	}
	st := Reconstruct(events, t0.Add(time.Hour))
	assert.Equal(t, Paused, st.Status)
	assert.Equal(t, int64(600000), st.ElapsedMs())

	events = append(events, ev(domain.TimeResume, 900000*time.Millisecond))
	st = Reconstruct(events, t0.Add(1200000*time.Millisecond))
	assert.Equal(t, Working, st.Status)
	assert.Equal(t, int64(900000), st.ElapsedMs())
}

func TestReconstructStopThenRestartAccumulates(t *testing.T) {
	events := []domain.TimeEvent{
		ev(domain.TimeStart, 0),
		ev(domain.TimeStop, 2*time.Hour),
		ev(domain.TimeStart, 3*time.Hour),
		ev(domain.TimeStop, 4*time.Hour),
	}
	st := Reconstruct(events, t0.Add(10*time.Hour))
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 3*time.Hour, st.Elapsed)
}

func TestReconstructSortsByTimestamp(t *testing.T) {
	events := []domain.TimeEvent{
		ev(domain.TimePause, 30*time.Minute),
		ev(domain.TimeStart, 0),
	}
	st := Reconstruct(events, t0.Add(time.Hour))
	assert.Equal(t, Paused, st.Status)
	assert.Equal(t, 30*time.Minute, st.Elapsed)
}

func TestReconstructIgnoresIllegalEvents(t *testing.T) {
	events := []domain.TimeEvent{
		ev(domain.TimePause, 0),
		ev(domain.TimeStart, 10*time.Minute),
		ev(domain.TimeStart, 20*time.Minute),
		ev(domain.TimeStop, 40*time.Minute),
		ev(domain.TimeResume, 50*time.Minute),
	}
	st := Reconstruct(events, t0.Add(time.Hour))
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 30*time.Minute, st.Elapsed, "double start keeps the first open interval")
	require.Len(t, st.Ignored, 3)
	assert.Equal(t, domain.TimePause, st.Ignored[0].Kind)
	assert.Equal(t, domain.TimeStart, st.Ignored[1].Kind)
	assert.Equal(t, domain.TimeResume, st.Ignored[2].Kind)
}

func TestReconstructOpenIntervalBeforeNow(t *testing.T) {
	st := Reconstruct([]domain.TimeEvent{ev(domain.TimeStart, time.Hour)}, t0)
	assert.Equal(t, Working, st.Status)
	assert.Zero(t, st.Elapsed)
}

func TestNext(t *testing.T) {
	next, err := Next(Idle, domain.TimeStart)
	require.NoError(t, err)
	assert.Equal(t, Working, next)
	_, err = Next(Idle, domain.TimeStop)
	assert.Error(t, err)
	_, err = Next(Working, domain.TimeResume)
	assert.Error(t, err)
}

func TestEarnings(t *testing.T) {
	rates := RatesFromSalary(decimal.NewFromInt(1600), decimal.NewFromInt(15), 160, 8)
	assert.True(t, rates.HourlyBase.Equal(decimal.NewFromInt(10)))

	pay := Earnings(6*time.Hour, rates)
	assert.True(t, pay.StandardHours.Equal(decimal.NewFromInt(6)))
	assert.True(t, pay.OvertimeHours.IsZero())
	assert.True(t, pay.Total.Equal(decimal.NewFromInt(60)), "total %s", pay.Total)

	pay = Earnings(9*time.Hour+30*time.Minute, rates)
	assert.True(t, pay.StandardHours.Equal(decimal.NewFromInt(8)))
	assert.True(t, pay.OvertimeHours.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, pay.Total.Equal(decimal.RequireFromString("102.5")), "total %s", pay.Total)
}

func TestRatesFromSalaryZeroHours(t *testing.T) {
	rates := RatesFromSalary(decimal.NewFromInt(1600), decimal.NewFromInt(15), 0, 8)
	assert.True(t, rates.HourlyBase.IsZero())
}

func TestReconstructFromCarriedShift(t *testing.T) {
	midnight := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	events := []domain.TimeEvent{
		{WorkerID: "w1", Kind: domain.TimeStop, At: midnight.Add(30 * time.Minute)},
	}
	st := ReconstructFrom(Working, midnight, events, midnight.Add(2*time.Hour))
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 30*time.Minute, st.Elapsed)
	assert.Empty(t, st.Ignored)

	st = ReconstructFrom(Paused, midnight, events, midnight.Add(2*time.Hour))
	assert.Equal(t, Idle, st.Status)
	assert.Zero(t, st.Elapsed)

	st = ReconstructFrom(Working, midnight, nil, midnight.Add(time.Hour))
	assert.Equal(t, Working, st.Status)
	assert.Equal(t, time.Hour, st.Elapsed)
}
