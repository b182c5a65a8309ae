// Package markethours knows the NSE cash-market calendar. The live feed
// stamps every quote batch with it so clients can tell stale closing prices
// from live ones.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session boundaries in IST minutes since midnight.
const (
	preOpenStart = 9*60 + 0
	openStart    = 9*60 + 15
	closeStart   = 15*60 + 30
	postCloseEnd = 16*60 + 0
)

// Phase is the trading session phase at an instant.
type Phase string

const (
	PhaseClosed    Phase = "closed"
	PhasePreOpen   Phase = "pre-open"
	PhaseOpen      Phase = "open"
	PhasePostClose Phase = "post-close"
)

// Status is the market state at an instant.
type Status struct {
	Phase    Phase     `json:"phase"`
	Open     bool      `json:"open"`
	Holiday  string    `json:"holiday,omitempty"`
	NextOpen time.Time `json:"nextOpen"`
	Message  string    `json:"message"`
}

// IsTradingDay returns true if t is Mon–Fri and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	return wd != time.Saturday && wd != time.Sunday && !IsHoliday(ist)
}

// PhaseAt returns the session phase at t.
func PhaseAt(t time.Time) Phase {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return PhaseClosed
	}
	hm := ist.Hour()*60 + ist.Minute()
	switch {
	case hm >= preOpenStart && hm < openStart:
		return PhasePreOpen
	case hm >= openStart && hm < closeStart:
		return PhaseOpen
	case hm >= closeStart && hm < postCloseEnd:
		return PhasePostClose
	default:
		return PhaseClosed
	}
}

// IsMarketOpen returns true during continuous trading
// (9:15 to 15:30 IST on trading days).
func IsMarketOpen(t time.Time) bool {
	return PhaseAt(t) == PhaseOpen
}

// NextOpen returns the next 9:15 IST on a trading day strictly after t,
// or today's open if t is before it.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	d := time.Date(ist.Year(), ist.Month(), ist.Day(), 9, 15, 0, 0, IST)
	if !ist.Before(d) {
		d = d.AddDate(0, 0, 1)
	}
	// longest NSE closure including weekends is well under three weeks
	for i := 0; i < 21 && !IsTradingDay(d); i++ {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TodayClose returns today's 15:30 IST.
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 15, 30, 0, 0, IST)
}

// StatusAt builds the full market status at t.
func StatusAt(t time.Time) Status {
	s := Status{
		Phase:    PhaseAt(t),
		NextOpen: NextOpen(t),
	}
	s.Open = s.Phase == PhaseOpen
	s.Holiday, _ = Holiday(t)
	s.Message = message(t, s)
	return s
}

func message(t time.Time, s Status) string {
	switch s.Phase {
	case PhaseOpen:
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TodayClose(t).Sub(t)))
	case PhasePreOpen:
		return fmt.Sprintf("Pre-open session, opens in %s", fmtDur(s.NextOpen.Sub(t)))
	}
	next := s.NextOpen.In(IST)
	msg := fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(s.NextOpen.Sub(t)))
	if s.Holiday != "" {
		msg += ", holiday: " + s.Holiday
	}
	return msg
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
