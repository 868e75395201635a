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

package events

import "time"

// FanUpdate is published by the control loop after every tick.
type FanUpdate struct {
	Time         time.Time `json:"time"`
	Policy       string    `json:"policy"`
	TemperatureC int       `json:"temperature_c"`
	Valid        bool      `json:"valid"` // false when the read failed
	Speed        int       `json:"speed"`
	Percent      int       `json:"percent"`
	Wrote        bool      `json:"wrote"`
	WriteReason  string    `json:"write_reason,omitempty"`
	ReadFailures int       `json:"read_failures"`
	FailSafe     bool      `json:"fail_safe"`
}

// Write reasons.
const (
	ReasonChange   = "change"
	ReasonRefresh  = "refresh"
	ReasonFailSafe = "failsafe"
)
