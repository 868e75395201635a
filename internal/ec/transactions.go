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
	"errors"
	"fmt"
)

// TemperatureSensor reads the single thermal zone the controller exposes.
type TemperatureSensor struct {
	ch *Channel
}

func NewTemperatureSensor(ch *Channel) *TemperatureSensor {
	return &TemperatureSensor{ch: ch}
}

// ReadTemperature returns the zone temperature in °C. A controller that
// never answers yields ErrTimeout instead of a zero reading.
func (s *TemperatureSensor) ReadTemperature() (int, error) {
	var v byte
	err := s.ch.transact(func() error {
		if err := s.ch.flush(); err != nil {
			return err
		}
		// a busy controller may still take the command; the read decides
		if err := s.ch.sendCommand(CmdReadTemperature); err != nil && !errors.Is(err, ErrTimeout) {
			return err
		}
		if err := s.ch.writeData(TemperatureIndex); err != nil {
			return err
		}
		var err error
		v, err = s.ch.readByte()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read temperature: %w", err)
	}
	return int(v), nil
}

// FanActuator writes the fan speed register. Writes are unconfirmed: the
// protocol has no acknowledgement, so a nil error only means every byte
// was handed to the controller.
type FanActuator struct {
	ch *Channel
}

func NewFanActuator(ch *Channel) *FanActuator {
	return &FanActuator{ch: ch}
}

// SetSpeed writes speed, clamped to 0..255.
func (f *FanActuator) SetSpeed(speed int) error {
	v := byte(min(max(speed, 0), 255))
	err := f.ch.transact(func() error {
		if err := f.ch.sendCommand(CmdSetFanSpeed); err != nil && !errors.Is(err, ErrTimeout) {
			return err
		}
		if err := f.ch.writeData(FanID); err != nil {
			return err
		}
		return f.ch.writeData(v)
	})
	if err != nil {
		return fmt.Errorf("set fan speed %d: %w", v, err)
	}
	return nil
}
