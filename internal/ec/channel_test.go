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
	"sync"
	"testing"
	"time"
)

type write struct {
	addr uint16
	v    byte
}

// recordPort logs every byte written through a SimPort.
type recordPort struct {
	*SimPort
	writes []write
}

func (r *recordPort) Out(addr uint16, v byte) error {
	r.writes = append(r.writes, write{addr, v})
	return r.SimPort.Out(addr, v)
}

// stuckPort reports a full output buffer forever.
type stuckPort struct{ SimPort }

func (p *stuckPort) In(addr uint16) (byte, error) {
	if addr == CommandPort {
		return statusOutputFull, nil
	}
	return 0x42, nil
}

func smallLimits() Limits {
	return Limits{CommandPolls: 50, DataPolls: 50, ReadPolls: 50, FlushLimit: 8}
}

func equalWrites(t *testing.T, got, want []write) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("writes=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d = %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestReadTemperature_Sequence(t *testing.T) {
	sim := NewSimPort()
	sim.SetTemperature(72)
	port := &recordPort{SimPort: sim}
	ch := NewChannel(port, smallLimits())

	temp, err := NewTemperatureSensor(ch).ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 72 {
		t.Fatalf("temp=%d want 72", temp)
	}
	equalWrites(t, port.writes, []write{{CommandPort, 0x9E}, {DataPort, 0x01}})
	if got := ch.Stats().Transactions; got != 1 {
		t.Fatalf("transactions=%d", got)
	}
}

func TestSetSpeed_SequenceAndClamp(t *testing.T) {
	sim := NewSimPort()
	port := &recordPort{SimPort: sim}
	fan := NewFanActuator(NewChannel(port, smallLimits()))

	if err := fan.SetSpeed(300); err != nil {
		t.Fatal(err)
	}
	equalWrites(t, port.writes, []write{{CommandPort, 0x99}, {DataPort, 0x01}, {DataPort, 0xFF}})
	if sim.Speed() != 255 {
		t.Fatalf("speed=%d", sim.Speed())
	}

	if err := fan.SetSpeed(-4); err != nil {
		t.Fatal(err)
	}
	if sim.Speed() != 0 {
		t.Fatalf("speed=%d want 0", sim.Speed())
	}
}

func TestReadTemperature_BusyController(t *testing.T) {
	sim := NewSimPort().WithBusyPolls(20)
	sim.SetTemperature(81)
	ch := NewChannel(sim, smallLimits())

	temp, err := NewTemperatureSensor(ch).ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 81 {
		t.Fatalf("temp=%d", temp)
	}
	if s := ch.Stats(); s.CommandTimeouts+s.DataTimeouts+s.ReadTimeouts != 0 {
		t.Fatalf("unexpected timeouts %+v", s)
	}
}

func TestReadTemperature_FlushesStaleBytes(t *testing.T) {
	sim := NewSimPort()
	sim.SetTemperature(60)
	sim.Stale(0xAA, 0xBB, 0xCC)
	ch := NewChannel(sim, smallLimits())

	temp, err := NewTemperatureSensor(ch).ReadTemperature()
	if err != nil {
		t.Fatal(err)
	}
	if temp != 60 {
		t.Fatalf("temp=%d want 60, stale byte leaked", temp)
	}
}

func TestFlush_Bounded(t *testing.T) {
	ch := NewChannel(&stuckPort{}, smallLimits())
	err := ch.Flush()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
	if ch.Stats().FlushTimeouts != 1 {
		t.Fatalf("stats=%+v", ch.Stats())
	}

	if _, err := NewTemperatureSensor(ch).ReadTemperature(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("read err=%v want ErrTimeout", err)
	}
}

func TestWedgedController_TimesOut(t *testing.T) {
	sim := NewSimPort()
	sim.SetTemperature(70)
	sim.Wedge(true)

	var ops []string
	ch := NewChannel(sim, smallLimits()).WithTimeoutHook(func(op string) { ops = append(ops, op) })

	temp, err := NewTemperatureSensor(ch).ReadTemperature()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
	if temp != 0 {
		t.Fatalf("temp=%d on failure", temp)
	}
	if len(ops) != 2 || ops[0] != OpCommand || ops[1] != OpData {
		t.Fatalf("timeout ops=%v", ops)
	}

	if err := NewFanActuator(ch).SetSpeed(100); !errors.Is(err, ErrTimeout) {
		t.Fatalf("set err=%v want ErrTimeout", err)
	}
	s := ch.Stats()
	if s.CommandTimeouts != 2 || s.DataTimeouts != 2 {
		t.Fatalf("stats=%+v", s)
	}

	sim.Wedge(false)
	if _, err := NewTemperatureSensor(ch).ReadTemperature(); err != nil {
		t.Fatalf("after recovery: %v", err)
	}
}

func TestWedgedController_WallClockTimeout(t *testing.T) {
	sim := NewSimPort()
	sim.Wedge(true)
	ch := NewChannel(sim, Limits{
		CommandPolls: 1 << 30,
		DataPolls:    1 << 30,
		ReadPolls:    1 << 30,
		Timeout:      5 * time.Millisecond,
	})

	start := time.Now()
	_, err := NewTemperatureSensor(ch).ReadTemperature()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("took %s", elapsed)
	}
}

func TestSendCommand_WritesAfterTimeout(t *testing.T) {
	sim := NewSimPort().WithBusyPolls(100)
	port := &recordPort{SimPort: sim}
	ch := NewChannel(port, smallLimits())

	// any written byte leaves the controller busy for 100 status reads
	if err := port.Out(DataPort, 0x00); err != nil {
		t.Fatal(err)
	}
	err := ch.SendCommand(CmdReadTemperature)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
	last := port.writes[len(port.writes)-1]
	if last != (write{CommandPort, CmdReadTemperature}) {
		t.Fatalf("command not written after timeout: %+v", port.writes)
	}
}

func TestWriteDataAndReadByte_NoIOOnTimeout(t *testing.T) {
	sim := NewSimPort()
	sim.Wedge(true)
	port := &recordPort{SimPort: sim}
	ch := NewChannel(port, smallLimits())

	if err := ch.WriteData(0x01); !errors.Is(err, ErrTimeout) {
		t.Fatalf("write err=%v", err)
	}
	if len(port.writes) != 0 {
		t.Fatalf("data written after timeout: %v", port.writes)
	}
	if _, err := ch.ReadByte(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("read err=%v", err)
	}
}

func TestAcquire_PermissionDenied(t *testing.T) {
	sim := NewSimPort()
	sim.Deny(true)
	ch := NewChannel(sim, smallLimits())

	if err := ch.Acquire(); !errors.Is(err, ErrPermission) {
		t.Fatalf("err=%v want ErrPermission", err)
	}
	if _, err := NewTemperatureSensor(ch).ReadTemperature(); !errors.Is(err, ErrPermission) {
		t.Fatalf("read err=%v want ErrPermission", err)
	}

	sim.Deny(false)
	if err := ch.Acquire(); err != nil {
		t.Fatal(err)
	}
	// acquired once, later denials are never seen
	sim.Deny(true)
	if err := ch.Acquire(); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
}

func TestLimits_Defaults(t *testing.T) {
	ch := NewChannel(NewSimPort(), Limits{ReadPolls: 10})
	l := ch.Limits()
	if l.ReadPolls != 10 || l.CommandPolls != 30_000 || l.DataPolls != 1_000_000 || l.FlushLimit != 256 {
		t.Fatalf("limits=%+v", l)
	}
}

func TestChannel_ConcurrentTransactions(t *testing.T) {
	sim := NewSimPort()
	sim.SetTemperature(70)
	ch := NewChannel(sim, smallLimits())
	sensor := NewTemperatureSensor(ch)
	fan := NewFanActuator(ch)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				temp, err := sensor.ReadTemperature()
				if err == nil && temp != 70 {
					err = errors.New("interleaved read")
				}
				if err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := fan.SetSpeed(128); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if got := ch.Stats().Transactions; got != 200 {
		t.Fatalf("transactions=%d want 200", got)
	}
	if sim.Speed() != 128 {
		t.Fatalf("speed=%d", sim.Speed())
	}
}
