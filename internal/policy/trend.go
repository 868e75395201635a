// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package policy

import (
	"time"

	"ecfand/internal/config"
)

// Trend moves the fan in fixed percentage steps once a temperature trend
// has persisted for a reaction time. Rising is confirmed faster than
// falling.
//
// A sample is rising when it is above MaxTemp, or above MinTemp and above
// the temperature recorded at the last speed change. Comparing against
// that instead of the previous sample keeps single-sample noise from
// resetting the counters.
type Trend struct {
	MinTemp    int
	MaxTemp    int
	RaiseLoops int // consecutive rising ticks tolerated before raising
	LowerLoops int
	Increment  int // percent
	Decrement  int // percent
	MinPercent int
	MaxPercent int
	Every      time.Duration
}

// NewTrend converts reaction times to tick counts for the loop period.
func NewTrend(c config.TrendConfig, period time.Duration) *Trend {
	loops := func(reaction time.Duration) int {
		if period <= 0 {
			return 0
		}
		return int(reaction / period)
	}
	return &Trend{
		MinTemp:    c.MinTemp,
		MaxTemp:    c.MaxTemp,
		RaiseLoops: loops(c.RaiseReaction),
		LowerLoops: loops(c.LowerReaction),
		Increment:  c.RaiseIncrement,
		Decrement:  c.LowerDecrement,
		MinPercent: c.MinPercent,
		MaxPercent: c.MaxPercent,
		Every:      c.Refresh,
	}
}

func (t *Trend) Name() string { return config.PolicyTrend }

func (t *Trend) Refresh() time.Duration { return t.Every }

func (t *Trend) Decide(temp int, prev State, now time.Time) (int, State) {
	st := prev
	if st.Percent < 0 {
		st.Percent = t.MinPercent
	}

	raising := temp > t.MaxTemp || (temp > t.MinTemp && temp > prev.LastTemp)
	if raising {
		st.LowerTicks = 0
		st.RaiseTicks++
	} else {
		st.RaiseTicks = 0
		st.LowerTicks++
	}

	switch {
	case st.RaiseTicks > t.RaiseLoops:
		st.Percent = min(st.Percent+t.Increment, t.MaxPercent)
		st.RaiseTicks, st.LowerTicks = 0, 0
	case st.LowerTicks > t.LowerLoops:
		st.Percent = max(st.Percent-t.Decrement, t.MinPercent)
		st.RaiseTicks, st.LowerTicks = 0, 0
	}
	return clampSpeed(Unperc(st.Percent)), st
}
