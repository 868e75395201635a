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

//go:build linux

package ec

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const DefaultDevPort = "/dev/port"

// DevPort does byte I/O through the kernel's port device, where the file
// offset is the I/O port address.
type DevPort struct {
	path string

	mu sync.Mutex
	fd int
}

func OpenDevPort(path string) *DevPort {
	if path == "" {
		path = DefaultDevPort
	}
	return &DevPort{path: path, fd: -1}
}

// Acquire opens the port device. Access to it needs CAP_SYS_RAWIO, so a
// refused open is reported as ErrPermission.
func (p *DevPort) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd >= 0 {
		return nil
	}
	fd, err := unix.Open(p.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return permissionError("open "+p.path, err)
	}
	p.fd = fd
	return nil
}

func (p *DevPort) In(addr uint16) (byte, error) {
	var b [1]byte
	n, err := unix.Pread(p.descriptor(), b[:], int64(addr))
	if err != nil {
		return 0, fmt.Errorf("in 0x%02X: %w", addr, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("in 0x%02X: short read", addr)
	}
	return b[0], nil
}

func (p *DevPort) Out(addr uint16, v byte) error {
	n, err := unix.Pwrite(p.descriptor(), []byte{v}, int64(addr))
	if err != nil {
		return fmt.Errorf("out 0x%02X: %w", addr, err)
	}
	if n != 1 {
		return fmt.Errorf("out 0x%02X: short write", addr)
	}
	return nil
}

func (p *DevPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func (p *DevPort) descriptor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd
}

func permissionError(op string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
