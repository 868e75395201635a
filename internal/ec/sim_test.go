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

package ec

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSim_HeatsWithFanOffCoolsWithFanOn(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	sim := NewSimPort().WithClock(clock.Now)
	ch := NewChannel(sim, smallLimits())
	sensor := NewTemperatureSensor(ch)
	fan := NewFanActuator(ch)

	read := func() int {
		t.Helper()
		v, err := sensor.ReadTemperature()
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	if err := fan.SetSpeed(0); err != nil {
		t.Fatal(err)
	}
	start := read()
	clock.Advance(5 * time.Minute)
	hot := read()
	if hot <= start || hot < 88 {
		t.Fatalf("fan off: start=%d after=%d", start, hot)
	}

	if err := fan.SetSpeed(255); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Minute)
	cool := read()
	if cool >= hot || cool > 62 {
		t.Fatalf("fan on: hot=%d after=%d", hot, cool)
	}
	if sim.Writes() != 2 {
		t.Fatalf("writes=%d", sim.Writes())
	}
}

func TestSim_LoadSetsFanOffEquilibrium(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	sim := NewSimPort().WithClock(clock.Now).WithLoad(10)
	sensor := NewTemperatureSensor(NewChannel(sim, smallLimits()))

	if _, err := sensor.ReadTemperature(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Minute)
	temp, err := sensor.ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	// ambient 40 plus the whole load with no airflow
	if temp != 50 {
		t.Fatalf("temp=%d want 50", temp)
	}
}
