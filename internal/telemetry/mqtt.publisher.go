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

// Package telemetry publishes fan updates to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ecfand/internal/config"
	"ecfand/internal/events"
	"ecfand/pkg/eventbus"
	"ecfand/pkg/logger"
)

var (
	connectWait = 10 * time.Second
	publishWait = 5 * time.Second
)

var errPending = errors.New("not acknowledged yet")

// PublishFunc sends one payload to topic. It must return once ctx is done.
type PublishFunc func(ctx context.Context, topic string, payload []byte) error

// Publisher forwards loop updates whose temperature, speed or fault state
// changed. Messages are retained so new subscribers see the current state.
type Publisher struct {
	cfg     config.MQTTConfig
	bus     *eventbus.Bus[events.FanUpdate]
	client  mqtt.Client
	publish PublishFunc
	log     *logger.Logger
}

func New(cfg config.MQTTConfig, bus *eventbus.Bus[events.FanUpdate]) *Publisher {
	return &Publisher{
		cfg: cfg,
		bus: bus,
		log: logger.New("MQTT"),
	}
}

// WithPublishFunc replaces the broker connection, e.g. in tests.
func (p *Publisher) WithPublishFunc(fn PublishFunc) *Publisher {
	p.publish = fn
	return p
}

// wait blocks until token completes, ctx is done or d elapses.
func wait(ctx context.Context, token mqtt.Token, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errPending
	}
}

func (p *Publisher) connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn("connection lost: %v", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			p.log.Info("connected to %s", p.cfg.Broker)
		})

	p.client = mqtt.NewClient(opts)
	err := wait(ctx, p.client.Connect(), connectWait)
	switch {
	case errors.Is(err, errPending):
		// SetConnectRetry keeps trying in the background
		p.log.Warn("broker %s not reachable yet, retrying", p.cfg.Broker)
	case err != nil:
		return fmt.Errorf("connect %s: %w", p.cfg.Broker, err)
	}

	// while connecting, paho queues the message and the token stays open
	p.publish = func(ctx context.Context, topic string, payload []byte) error {
		return wait(ctx, p.client.Publish(topic, 0, true, payload), publishWait)
	}
	return nil
}

func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("Running...")
	defer p.log.Info("Stopped")

	if p.publish == nil {
		err := p.connect(ctx)
		if p.client != nil {
			defer p.client.Disconnect(250)
		}
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("%v", err)
			}
			return
		}
	}

	var last events.FanUpdate
	first := true
	for ev := range p.bus.Subscribe(ctx, true) {
		if !first && !changed(last, ev) {
			continue
		}
		first = false
		last = ev
		p.send(ctx, ev)
	}
}

func changed(a, b events.FanUpdate) bool {
	return a.TemperatureC != b.TemperatureC ||
		a.Speed != b.Speed ||
		a.Valid != b.Valid ||
		a.FailSafe != b.FailSafe
}

func (p *Publisher) send(ctx context.Context, ev events.FanUpdate) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal update: %v", err)
		return
	}
	if err := p.publish(ctx, p.cfg.Topic, payload); err != nil && ctx.Err() == nil {
		p.log.Warn("publish %s: %v", p.cfg.Topic, err)
	}
}
