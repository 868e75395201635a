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

// Package policy maps temperature samples to fan speeds.
//
// A Policy is a pure function of the sample, the previous State and the
// current time. All hysteresis memory lives in State, which the control
// loop carries from tick to tick.
package policy

import (
	"fmt"
	"math"
	"time"

	"ecfand/internal/config"
)

const MaxSpeed = 255

// State is the hysteresis memory carried between ticks.
type State struct {
	LastSpeed int // last speed written to the fan, -1 before the first write
	LastWrite time.Time
	LastTemp  int // temperature when the written speed last changed

	// peak hold
	HeldSpeed int
	HeldAt    time.Time

	// trend
	Percent    int // -1 until the first decision
	RaiseTicks int
	LowerTicks int
}

func NewState() State {
	return State{LastSpeed: -1, HeldSpeed: -1, Percent: -1}
}

// Commit records a write of speed taken at temp.
func (s State) Commit(speed, temp int, now time.Time) State {
	if speed != s.LastSpeed {
		s.LastTemp = temp
	}
	s.LastSpeed = speed
	s.LastWrite = now
	return s
}

type Policy interface {
	Name() string
	Decide(temp int, prev State, now time.Time) (int, State)
	// Refresh is the interval after which an unchanged speed is written
	// again. 0 disables re-assertion.
	Refresh() time.Duration
}

// ShouldWrite reports whether speed must be sent to the fan: it differs
// from the last written speed, or the last write is older than refresh.
func ShouldWrite(speed int, st State, refresh time.Duration, now time.Time) bool {
	if speed != st.LastSpeed {
		return true
	}
	return refresh > 0 && now.Sub(st.LastWrite) > refresh
}

// Perc converts a speed in 0..255 to a rounded percentage.
func Perc(speed int) int {
	return int(math.Round(float64(speed) / MaxSpeed * 100))
}

// Unperc converts a percentage to a rounded speed in 0..255.
func Unperc(percent int) int {
	return int(math.Round(float64(percent) / 100 * MaxSpeed))
}

func clampSpeed(v int) int {
	return min(max(v, 0), MaxSpeed)
}

// FromConfig builds the policy selected by cfg.Policy.
func FromConfig(cfg config.Config) (Policy, error) {
	switch cfg.Policy {
	case config.PolicyPeakHold:
		return NewPeakHold(cfg.PeakHold), nil
	case config.PolicyCurve:
		return NewCurve(cfg.Curve), nil
	case config.PolicyTrend:
		return NewTrend(cfg.Trend, cfg.Period()), nil
	}
	return nil, fmt.Errorf("unknown policy %q", cfg.Policy)
}
