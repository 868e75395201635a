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
	"math"
	"time"

	"ecfand/internal/config"
)

// PeakHold ramps linearly from MinSpeed at OffTemp to 255 at MaxTemp and
// holds the highest recent speed for Hold before letting it drop.
type PeakHold struct {
	OffTemp  int
	MaxTemp  int
	MinSpeed int
	Hold     time.Duration
	Every    time.Duration
}

func NewPeakHold(c config.PeakHoldConfig) *PeakHold {
	return &PeakHold{
		OffTemp:  c.OffTemp,
		MaxTemp:  c.MaxTemp,
		MinSpeed: c.MinSpeed,
		Hold:     c.Hold,
		Every:    c.Refresh,
	}
}

func (p *PeakHold) Name() string { return config.PolicyPeakHold }

func (p *PeakHold) Refresh() time.Duration { return p.Every }

// Dynamic is the instantaneous speed for temp, without hold.
// At or below OffTemp the fan is off.
func (p *PeakHold) Dynamic(temp int) int {
	if temp <= p.OffTemp {
		return 0
	}
	frac := float64(temp-p.OffTemp) / float64(p.MaxTemp-p.OffTemp)
	speed := int(math.Round(frac*float64(MaxSpeed-p.MinSpeed) + float64(p.MinSpeed)))
	if speed < p.MinSpeed {
		return 0
	}
	return min(speed, MaxSpeed)
}

func (p *PeakHold) Decide(temp int, prev State, now time.Time) (int, State) {
	return p.hold(p.Dynamic(temp), prev, now)
}

// hold replaces the held speed when speed exceeds it or the hold expired.
func (p *PeakHold) hold(speed int, st State, now time.Time) (int, State) {
	if st.HeldSpeed < 0 || speed > st.HeldSpeed || now.Sub(st.HeldAt) > p.Hold {
		st.HeldSpeed = speed
		st.HeldAt = now
	}
	return st.HeldSpeed, st
}
