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
	"fmt"
	"math"
	"sync"
	"time"
)

// SimPort emulates an EC on the command/data port pair, with a first-order
// thermal model that cools as the fan speeds up. Used by -simulate and tests.
type SimPort struct {
	mu sync.Mutex

	ambient float64 // °C with an idle machine
	load    float64 // °C added by the workload with the fan off
	cooling float64 // equilibrium rise is load/(1+cooling*fan fraction)
	tau     time.Duration
	temp    float64
	fixed   bool
	updated time.Time
	now     func() time.Time

	busyPolls int // status reads IBF stays set after each write
	busyLeft  int
	wedged    bool

	cmd    byte
	args   []byte
	output []byte

	speed  int
	writes int
	denied bool
}

func NewSimPort() *SimPort {
	return &SimPort{
		ambient: 40,
		load:    50,
		cooling: 1.5,
		tau:     20 * time.Second,
		temp:    55,
		speed:   -1,
		now:     time.Now,
	}
}

// WithClock replaces the wall clock driving the thermal model.
func (s *SimPort) WithClock(now func() time.Time) *SimPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.updated = time.Time{}
	return s
}

// WithLoad sets the heat the workload adds above ambient with the fan off.
func (s *SimPort) WithLoad(load float64) *SimPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load = load
	return s
}

// WithBusyPolls keeps IBF set for n status reads after every written byte.
func (s *SimPort) WithBusyPolls(n int) *SimPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyPolls = n
	return s
}

// Wedge makes the controller stop responding: IBF stays set and nothing is
// ever placed in the output buffer.
func (s *SimPort) Wedge(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wedged = on
}

// Deny makes Acquire fail as if the process lacked privilege.
func (s *SimPort) Deny(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = on
}

// SetTemperature pins the reported temperature, disabling the model.
func (s *SimPort) SetTemperature(c int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = float64(c)
	s.fixed = true
}

// Stale queues bytes in the output buffer as left over by an aborted read.
func (s *SimPort) Stale(b ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = append(s.output, b...)
}

// Speed is the last fan speed written, or -1.
func (s *SimPort) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Writes counts completed fan speed transactions.
func (s *SimPort) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *SimPort) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return fmt.Errorf("sim: %w", ErrPermission)
	}
	return nil
}

func (s *SimPort) Close() error { return nil }

func (s *SimPort) In(addr uint16) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch addr {
	case CommandPort:
		var status byte
		if s.wedged {
			return statusInputFull, nil
		}
		if s.busyLeft > 0 {
			s.busyLeft--
			status |= statusInputFull
		}
		if len(s.output) > 0 {
			status |= statusOutputFull
		}
		return status, nil
	case DataPort:
		if len(s.output) == 0 {
			return 0xFF, nil
		}
		b := s.output[0]
		s.output = s.output[1:]
		return b, nil
	}
	return 0, fmt.Errorf("sim: no device at port 0x%02X", addr)
}

func (s *SimPort) Out(addr uint16, v byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wedged {
		return nil
	}
	s.busyLeft = s.busyPolls

	switch addr {
	case CommandPort:
		s.cmd = v
		s.args = s.args[:0]
	case DataPort:
		s.args = append(s.args, v)
		s.execute()
	default:
		return fmt.Errorf("sim: no device at port 0x%02X", addr)
	}
	return nil
}

func (s *SimPort) execute() {
	switch s.cmd {
	case CmdReadTemperature:
		if len(s.args) == 1 {
			s.advance()
			if s.args[0] == TemperatureIndex {
				s.output = append(s.output, byte(math.Round(min(max(s.temp, 0), 255))))
			}
			s.cmd = 0
		}
	case CmdSetFanSpeed:
		if len(s.args) == 2 {
			if s.args[0] == FanID {
				s.advance()
				s.speed = int(s.args[1])
				s.writes++
			}
			s.cmd = 0
		}
	}
}

// advance integrates the thermal model up to now.
func (s *SimPort) advance() {
	now := s.now()
	if s.updated.IsZero() || s.fixed {
		s.updated = now
		return
	}
	dt := now.Sub(s.updated).Seconds()
	s.updated = now
	if dt <= 0 {
		return
	}
	fan := 0.0
	if s.speed > 0 {
		fan = float64(s.speed) / 255
	}
	target := s.ambient + s.load/(1+s.cooling*fan)
	s.temp = target + (s.temp-target)*math.Exp(-dt/s.tau.Seconds())
}
