package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ist(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, IST)
}

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"before pre-open", ist(2026, time.October, 15, 8, 59), PhaseClosed},
		{"pre-open", ist(2026, time.October, 15, 9, 5), PhasePreOpen},
		{"open boundary", ist(2026, time.October, 15, 9, 15), PhaseOpen},
		{"midday", ist(2026, time.October, 15, 12, 0), PhaseOpen},
		{"close boundary", ist(2026, time.October, 15, 15, 30), PhasePostClose},
		{"after post-close", ist(2026, time.October, 15, 16, 0), PhaseClosed},
		{"saturday", ist(2026, time.October, 17, 11, 0), PhaseClosed},
		{"holiday", ist(2026, time.October, 2, 11, 0), PhaseClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseAt(tt.at))
		})
	}
}

func TestPhaseAtConvertsFromUTC(t *testing.T) {
	// 04:00 UTC is 09:30 IST
	at := time.Date(2026, time.October, 15, 4, 0, 0, 0, time.UTC)
	assert.True(t, IsMarketOpen(at))
}

func TestNextOpen(t *testing.T) {
	// Thursday before open
	assert.Equal(t, ist(2026, time.October, 15, 9, 15), NextOpen(ist(2026, time.October, 15, 8, 0)))
	// Friday after close rolls to Monday
	assert.Equal(t, ist(2026, time.October, 19, 9, 15), NextOpen(ist(2026, time.October, 16, 16, 0)))
	// Monday 19th, Tuesday 20th is Dussehra
	assert.Equal(t, ist(2026, time.October, 21, 9, 15), NextOpen(ist(2026, time.October, 19, 15, 45)))
	// Diwali week: Thu 5th and Fri 6th closed
	assert.Equal(t, ist(2026, time.November, 9, 9, 15), NextOpen(ist(2026, time.November, 4, 18, 0)))
}

func TestStatusAt(t *testing.T) {
	open := StatusAt(ist(2026, time.October, 15, 13, 0))
	assert.True(t, open.Open)
	assert.Equal(t, "Market Open, closes in 2h30m", open.Message)

	hol := StatusAt(ist(2026, time.October, 2, 10, 0))
	assert.False(t, hol.Open)
	assert.Equal(t, "Mahatma Gandhi Jayanti", hol.Holiday)
	assert.Contains(t, hol.Message, "opens Mon 09:15")
	assert.Contains(t, hol.Message, "holiday: Mahatma Gandhi Jayanti")

	pre := StatusAt(ist(2026, time.October, 15, 9, 10))
	assert.Equal(t, PhasePreOpen, pre.Phase)
	assert.Equal(t, "Pre-open session, opens in 5m", pre.Message)
}
