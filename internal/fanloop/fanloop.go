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

package fanloop

import (
	"context"
	"time"

	"ecfand/internal/events"
	"ecfand/internal/metrics"
	"ecfand/internal/policy"
	"ecfand/pkg/eventbus"
	"ecfand/pkg/logger"
)

type Sensor interface {
	ReadTemperature() (int, error)
}

type Actuator interface {
	SetSpeed(speed int) error
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func() (int, error)

func (f SensorFunc) ReadTemperature() (int, error) { return f() }

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(speed int) error

func (f ActuatorFunc) SetSpeed(speed int) error { return f(speed) }

// Loop samples the sensor every period, runs the policy and writes the fan
// when the speed changed or the last write is older than the policy's
// refresh interval.
type Loop struct {
	sensor Sensor
	fan    Actuator
	policy policy.Policy

	period          time.Duration
	maxReadFailures int
	now             func() time.Time

	bus     *eventbus.Bus[events.FanUpdate]
	metrics *metrics.Metrics

	state    policy.State
	failures int
	failSafe bool

	log *logger.Logger
}

func New(sensor Sensor, fan Actuator, p policy.Policy) *Loop {
	return &Loop{
		sensor:          sensor,
		fan:             fan,
		policy:          p,
		period:          500 * time.Millisecond,
		maxReadFailures: 8,
		now:             time.Now,
		state:           policy.NewState(),
		log:             logger.New("FanLoop"),
	}
}

func (l *Loop) WithPeriod(d time.Duration) *Loop {
	l.period = d
	return l
}

// WithMaxReadFailures sets how many consecutive failed reads force the fan
// to full speed. 0 never forces it.
func (l *Loop) WithMaxReadFailures(n int) *Loop {
	l.maxReadFailures = n
	return l
}

func (l *Loop) WithBus(bus *eventbus.Bus[events.FanUpdate]) *Loop {
	l.bus = bus
	return l
}

func (l *Loop) WithMetrics(m *metrics.Metrics) *Loop {
	l.metrics = m
	return l
}

func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// State returns the hysteresis state after the last tick.
func (l *Loop) State() policy.State {
	return l.state
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("Running: policy=%s period=%s", l.policy.Name(), l.period)
	defer l.log.Info("Stopped")

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		l.Step(l.now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Step runs one tick at now and returns what it published.
func (l *Loop) Step(now time.Time) events.FanUpdate {
	start := time.Now()
	defer func() { l.metrics.Tick(time.Since(start)) }()

	ev := events.FanUpdate{
		Time:   now,
		Policy: l.policy.Name(),
		Speed:  l.state.LastSpeed,
	}

	temp, err := l.sensor.ReadTemperature()
	if err != nil {
		l.readFailed(err, now, &ev)
		l.publish(ev)
		return ev
	}
	if l.failures > 0 || l.failSafe {
		l.log.Info("temperature readings recovered after %d failures", l.failures)
	}
	l.failures = 0
	l.failSafe = false
	l.metrics.FailSafe(false)
	l.metrics.Temperature(temp)

	speed, next := l.policy.Decide(temp, l.state, now)
	ev.Valid = true
	ev.TemperatureC = temp
	ev.Speed = speed
	ev.Percent = policy.Perc(speed)

	if policy.ShouldWrite(speed, l.state, l.policy.Refresh(), now) {
		reason := events.ReasonChange
		if speed == l.state.LastSpeed {
			reason = events.ReasonRefresh
		}
		if l.write(speed, reason) {
			next = next.Commit(speed, temp, now)
			ev.Wrote = true
			ev.WriteReason = reason
			l.log.Debug("T:%d°C | set fan to %d%% (%d)", temp, ev.Percent, speed)
		}
	} else {
		l.log.Debug("T:%d°C", temp)
	}
	l.state = next

	l.publish(ev)
	return ev
}

// readFailed skips the tick; after maxReadFailures in a row the fan is
// forced to full speed until a read succeeds.
func (l *Loop) readFailed(err error, now time.Time, ev *events.FanUpdate) {
	l.failures++
	l.metrics.ReadFailure()
	ev.ReadFailures = l.failures
	if l.failures == 1 {
		l.log.Warn("read temperature: %v", err)
	} else {
		l.log.Debug("read temperature (%d in a row): %v", l.failures, err)
	}

	if l.maxReadFailures <= 0 || l.failures < l.maxReadFailures {
		ev.FailSafe = l.failSafe
		return
	}
	if !l.failSafe {
		l.log.Warn("%d consecutive read failures, forcing fan to full speed", l.failures)
		l.failSafe = true
		l.metrics.FailSafe(true)
	}
	ev.FailSafe = true

	if policy.ShouldWrite(policy.MaxSpeed, l.state, l.policy.Refresh(), now) {
		if l.write(policy.MaxSpeed, events.ReasonFailSafe) {
			l.state = l.state.Commit(policy.MaxSpeed, l.state.LastTemp, now)
			ev.Wrote = true
			ev.WriteReason = events.ReasonFailSafe
		}
	}
	ev.Speed = l.state.LastSpeed
	ev.Percent = policy.Perc(max(ev.Speed, 0))
}

func (l *Loop) write(speed int, reason string) bool {
	if err := l.fan.SetSpeed(speed); err != nil {
		l.log.Warn("set fan speed %d: %v", speed, err)
		l.metrics.FanWriteError()
		return false
	}
	l.metrics.FanWrite(reason, speed)
	return true
}

func (l *Loop) publish(ev events.FanUpdate) {
	if l.bus != nil {
		l.bus.Publish(ev)
	}
}
