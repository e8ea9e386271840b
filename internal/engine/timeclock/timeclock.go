// Package timeclock rebuilds a worker's clock state from the append-only
// time event log and turns elapsed time into earnings.
package timeclock

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"obraflow/internal/domain"
)

type Status string

const (
	Idle    Status = "idle"
	Working Status = "working"
	Paused  Status = "paused"
)

// transitions maps (state, event kind) to the next state. Pairs not listed
// are illegal in that state.
var transitions = map[Status]map[domain.TimeEventKind]Status{
	Idle: {
		domain.TimeStart: Working,
	},
	Working: {
		domain.TimePause: Paused,
		domain.TimeStop:  Idle,
	},
	Paused: {
		domain.TimeResume: Working,
		domain.TimeStop:   Idle,
	},
}

// Next returns the state reached by applying kind in state from.
func Next(from Status, kind domain.TimeEventKind) (Status, error) {
	to, ok := transitions[from][kind]
	if !ok {
		return from, fmt.Errorf("clock event %s not allowed while %s", kind, from)
	}
	return to, nil
}

type State struct {
	Status  Status
	Elapsed time.Duration
	// Ignored lists events skipped because they were illegal in the state
	// reached so far.
	Ignored []domain.TimeEvent
}

func (s State) ElapsedMs() int64 { return s.Elapsed.Milliseconds() }

// Reconstruct replays events in ascending timestamp order starting idle. An
// open working interval is measured up to now. Events illegal in the state
// reached so far are skipped and listed in Ignored; in particular a second
// start while working keeps the first open interval instead of restarting it.
func Reconstruct(events []domain.TimeEvent, now time.Time) State {
	return ReconstructFrom(Idle, time.Time{}, events, now)
}

// ReconstructFrom is Reconstruct for a day that opens in status carry, as
// when a shift runs past midnight. A carried working interval is measured
// from dayStart.
func ReconstructFrom(carry Status, dayStart time.Time, events []domain.TimeEvent, now time.Time) State {
	sorted := make([]domain.TimeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	if _, ok := transitions[carry]; !ok {
		carry = Idle
	}
	st := State{Status: carry}
	var openStart *time.Time
	if carry == Working {
		openStart = &dayStart
	}
	for _, ev := range sorted {
		next, err := Next(st.Status, ev.Kind)
		if err != nil {
			st.Ignored = append(st.Ignored, ev)
			continue
		}
		switch next {
		case Working:
			at := ev.At
			openStart = &at
		default:
			if openStart != nil {
				st.Elapsed += ev.At.Sub(*openStart)
				openStart = nil
			}
		}
		st.Status = next
	}
	if openStart != nil && now.After(*openStart) {
		st.Elapsed += now.Sub(*openStart)
	}
	return st
}

type Rates struct {
	HourlyBase    decimal.Decimal
	Overtime      decimal.Decimal
	StandardHours decimal.Decimal
}

// RatesFromSalary derives the hourly base rate from a monthly salary.
func RatesFromSalary(monthlySalary, overtime decimal.Decimal, monthlyHours, standardDayHours int) Rates {
	base := decimal.Zero
	if monthlyHours > 0 {
		base = monthlySalary.Div(decimal.NewFromInt(int64(monthlyHours)))
	}
	return Rates{
		HourlyBase:    base,
		Overtime:      overtime,
		StandardHours: decimal.NewFromInt(int64(standardDayHours)),
	}
}

type Pay struct {
	StandardHours decimal.Decimal `json:"standard_hours"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	Total         decimal.Decimal `json:"total"`
}

// Earnings splits elapsed time into standard and overtime hours and prices
// each at its rate.
func Earnings(elapsed time.Duration, r Rates) Pay {
	hours := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(int64(time.Hour / time.Millisecond)))
	standard := decimal.Min(hours, r.StandardHours)
	overtime := decimal.Max(decimal.Zero, hours.Sub(r.StandardHours))
	return Pay{
		StandardHours: standard,
		OvertimeHours: overtime,
		Total:         standard.Mul(r.HourlyBase).Add(overtime.Mul(r.Overtime)),
	}
}
