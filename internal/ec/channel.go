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

// Package ec talks to a laptop embedded controller over the legacy
// command/data port pair (0x66/0x62).
//
// All traffic goes through a Channel. A transaction is a command byte,
// one or more data bytes and an optional response byte; the Channel holds a
// mutex for the whole transaction because the controller cannot tell
// interleaved transactions apart.
package ec

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ecfand/pkg/logger"
)

const (
	CommandPort uint16 = 0x66
	DataPort    uint16 = 0x62

	statusOutputFull byte = 1 << 0 // a byte is waiting on the data port
	statusInputFull  byte = 1 << 1 // controller has not consumed our last byte

	CmdReadTemperature byte = 0x9E
	CmdSetFanSpeed     byte = 0x99

	TemperatureIndex byte = 0x01
	FanID            byte = 0x01
)

var (
	// ErrTimeout reports that the controller did not reach the expected
	// status within the poll budget.
	ErrTimeout = errors.New("ec: timeout")
	// ErrPermission reports missing privilege for raw port access.
	ErrPermission = errors.New("ec: port access denied (run as root)")
)

// Port is raw single-byte I/O on the two EC port addresses.
type Port interface {
	// Acquire requests access to both port addresses. Must be idempotent.
	Acquire() error
	In(addr uint16) (byte, error)
	Out(addr uint16, v byte) error
	Close() error
}

// Limits bounds every busy-wait on the status register.
type Limits struct {
	CommandPolls int           // wait for input-empty before a command byte
	DataPolls    int           // wait for input-empty before a data byte
	ReadPolls    int           // wait for output-full before reading a byte
	FlushLimit   int           // stale bytes drained before giving up
	Timeout      time.Duration // wall clock bound per wait, 0 = polls only
}

func DefaultLimits() Limits {
	return Limits{
		CommandPolls: 30_000,
		DataPolls:    1_000_000,
		ReadPolls:    1_000_000,
		FlushLimit:   256,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.CommandPolls <= 0 {
		l.CommandPolls = d.CommandPolls
	}
	if l.DataPolls <= 0 {
		l.DataPolls = d.DataPolls
	}
	if l.ReadPolls <= 0 {
		l.ReadPolls = d.ReadPolls
	}
	if l.FlushLimit <= 0 {
		l.FlushLimit = d.FlushLimit
	}
	return l
}

// Primitive names, used for timeout accounting.
const (
	OpFlush   = "flush"
	OpCommand = "command"
	OpData    = "data"
	OpRead    = "read"
)

// Stats counts transactions and timeouts per primitive.
type Stats struct {
	Transactions    uint64 `json:"transactions"`
	FlushTimeouts   uint64 `json:"flush_timeouts"`
	CommandTimeouts uint64 `json:"command_timeouts"`
	DataTimeouts    uint64 `json:"data_timeouts"`
	ReadTimeouts    uint64 `json:"read_timeouts"`
}

type Channel struct {
	mu       sync.Mutex
	port     Port
	limits   Limits
	acquired bool

	transactions    atomic.Uint64
	flushTimeouts   atomic.Uint64
	commandTimeouts atomic.Uint64
	dataTimeouts    atomic.Uint64
	readTimeouts    atomic.Uint64

	onTimeout func(op string)
	log       *logger.Logger
}

func NewChannel(port Port, limits Limits) *Channel {
	return &Channel{
		port:   port,
		limits: limits.withDefaults(),
		log:    logger.New("EC"),
	}
}

// WithTimeoutHook registers fn to be called with the primitive name on
// every timeout, in addition to the built-in counters and log line.
func (c *Channel) WithTimeoutHook(fn func(op string)) *Channel {
	c.onTimeout = fn
	return c
}

func (c *Channel) Limits() Limits {
	return c.limits
}

func (c *Channel) Stats() Stats {
	return Stats{
		Transactions:    c.transactions.Load(),
		FlushTimeouts:   c.flushTimeouts.Load(),
		CommandTimeouts: c.commandTimeouts.Load(),
		DataTimeouts:    c.dataTimeouts.Load(),
		ReadTimeouts:    c.readTimeouts.Load(),
	}
}

// Acquire requests port access. Only the first successful call reaches the
// port; later calls are no-ops.
func (c *Channel) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquire()
}

func (c *Channel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

func (c *Channel) SendCommand(cmd byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCommand(cmd)
}

func (c *Channel) WriteData(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeData(b)
}

func (c *Channel) ReadByte() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readByte()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = false
	return c.port.Close()
}

// transact runs fn with exclusive access to an acquired port.
func (c *Channel) transact(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acquire(); err != nil {
		return err
	}
	c.transactions.Add(1)
	return fn()
}

func (c *Channel) acquire() error {
	if c.acquired {
		return nil
	}
	if err := c.port.Acquire(); err != nil {
		return err
	}
	c.acquired = true
	return nil
}

// poll reads the status register until ready holds, at most limit times
// and, when configured, no longer than the wall clock timeout.
func (c *Channel) poll(limit int, ready func(status byte) bool) error {
	var deadline time.Time
	if c.limits.Timeout > 0 {
		deadline = time.Now().Add(c.limits.Timeout)
	}
	for i := 0; i < limit; i++ {
		status, err := c.port.In(CommandPort)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if ready(status) {
			return nil
		}
		// checking the clock every poll would dominate the loop
		if !deadline.IsZero() && i%1024 == 1023 && time.Now().After(deadline) {
			break
		}
	}
	return ErrTimeout
}

func inputEmpty(status byte) bool { return status&statusInputFull == 0 }
func outputFull(status byte) bool { return status&statusOutputFull != 0 }

func (c *Channel) timedOut(op string) {
	switch op {
	case OpFlush:
		c.flushTimeouts.Add(1)
	case OpCommand:
		c.commandTimeouts.Add(1)
	case OpData:
		c.dataTimeouts.Add(1)
	case OpRead:
		c.readTimeouts.Add(1)
	}
	c.log.Warn("%s timed out", op)
	if c.onTimeout != nil {
		c.onTimeout(op)
	}
}

// flush drains bytes left on the data port by an earlier, incomplete
// transaction.
func (c *Channel) flush() error {
	for i := 0; i < c.limits.FlushLimit; i++ {
		status, err := c.port.In(CommandPort)
		if err != nil {
			return fmt.Errorf("flush: read status: %w", err)
		}
		if !outputFull(status) {
			return nil
		}
		if _, err := c.port.In(DataPort); err != nil {
			return fmt.Errorf("flush: read data: %w", err)
		}
	}
	c.timedOut(OpFlush)
	return fmt.Errorf("flush: output still full after %d bytes: %w", c.limits.FlushLimit, ErrTimeout)
}

// sendCommand writes cmd even when the controller stays busy past the poll
// budget; it may ignore the byte, which is reported as a wrapped ErrTimeout.
func (c *Channel) sendCommand(cmd byte) error {
	err := c.poll(c.limits.CommandPolls, inputEmpty)
	busy := errors.Is(err, ErrTimeout)
	if err != nil && !busy {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	if busy {
		c.timedOut(OpCommand)
	}
	if err := c.port.Out(CommandPort, cmd); err != nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	if busy {
		return fmt.Errorf("command 0x%02X sent while input buffer busy: %w", cmd, ErrTimeout)
	}
	return nil
}

func (c *Channel) writeData(b byte) error {
	if err := c.poll(c.limits.DataPolls, inputEmpty); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.timedOut(OpData)
		}
		return fmt.Errorf("data 0x%02X: %w", b, err)
	}
	if err := c.port.Out(DataPort, b); err != nil {
		return fmt.Errorf("data 0x%02X: %w", b, err)
	}
	return nil
}

func (c *Channel) readByte() (byte, error) {
	if err := c.poll(c.limits.ReadPolls, outputFull); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.timedOut(OpRead)
		}
		return 0, fmt.Errorf("read: %w", err)
	}
	v, err := c.port.In(DataPort)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	return v, nil
}
