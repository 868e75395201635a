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

// Curve is a five segment piecewise linear map from temperature to
// percentage: off, 25, 50, 75 and 100 percent at the five thresholds.
type Curve struct {
	OffTemp  int
	P25Temp  int
	P50Temp  int
	P75Temp  int
	P100Temp int
	MinSpeed int
	Every    time.Duration
}

func NewCurve(c config.CurveConfig) *Curve {
	return &Curve{
		OffTemp:  c.OffTemp,
		P25Temp:  c.P25Temp,
		P50Temp:  c.P50Temp,
		P75Temp:  c.P75Temp,
		P100Temp: c.P100Temp,
		MinSpeed: c.MinSpeed,
		Every:    c.Refresh,
	}
}

func (c *Curve) Name() string { return config.PolicyCurve }

func (c *Curve) Refresh() time.Duration { return c.Every }

// Percent is the whole percentage for temp; fractions are truncated.
func (c *Curve) Percent(temp int) int {
	segment := func(base float64, lo, hi int) int {
		slider := float64(temp-lo) / float64(hi-lo)
		return int(base + 25*slider)
	}
	switch {
	case temp <= c.OffTemp:
		return 0
	case temp <= c.P25Temp:
		return segment(0, c.OffTemp, c.P25Temp)
	case temp <= c.P50Temp:
		return segment(25, c.P25Temp, c.P50Temp)
	case temp <= c.P75Temp:
		return segment(50, c.P50Temp, c.P75Temp)
	case temp <= c.P100Temp:
		return segment(75, c.P75Temp, c.P100Temp)
	}
	return 100
}

func (c *Curve) Speed(temp int) int {
	if temp > c.P100Temp {
		return MaxSpeed
	}
	speed := clampSpeed(Unperc(c.Percent(temp)))
	if speed != 0 && speed < c.MinSpeed {
		speed = c.MinSpeed
	}
	return speed
}

func (c *Curve) Decide(temp int, prev State, now time.Time) (int, State) {
	return c.Speed(temp), prev
}
