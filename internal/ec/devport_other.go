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

//go:build !linux

package ec

import "fmt"

const DefaultDevPort = ""

// DevPort is unavailable off Linux; every call fails with ErrPermission.
type DevPort struct{}

func OpenDevPort(path string) *DevPort { return &DevPort{} }

func (p *DevPort) Acquire() error {
	return fmt.Errorf("raw port access is only supported on linux: %w", ErrPermission)
}

func (p *DevPort) In(addr uint16) (byte, error) { return 0, ErrPermission }

func (p *DevPort) Out(addr uint16, v byte) error { return ErrPermission }

func (p *DevPort) Close() error { return nil }
