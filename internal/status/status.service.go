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

// Package status serves the control loop's state over HTTP: a JSON
// snapshot, recent history and a websocket stream of every tick.
package status

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"ecfand/internal/ec"
	"ecfand/internal/events"
	"ecfand/pkg/eventbus"
	"ecfand/pkg/logger"
)

const DefaultHistory = 600

type Service struct {
	bus     *eventbus.Bus[events.FanUpdate]
	ecStats func() ec.Stats

	mu      sync.RWMutex
	history []events.FanUpdate
	size    int

	clients *clientSet
	handler func() *routes
	log     *logger.Logger
}

func New(bus *eventbus.Bus[events.FanUpdate]) *Service {
	s := &Service{
		bus:     bus,
		size:    DefaultHistory,
		clients: newClientSet(),
		log:     logger.New("Status"),
	}
	s.handler = sync.OnceValue(s.newRoutes)
	return s
}

// WithHistory sets how many ticks /api/history keeps.
func (s *Service) WithHistory(n int) *Service {
	s.size = max(n, 1)
	return s
}

// WithECStats adds EC transaction counters to /api/state.
func (s *Service) WithECStats(fn func() ec.Stats) *Service {
	s.ecStats = fn
	return s
}

// Run records and broadcasts every published update until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("Running...")
	defer s.log.Info("Stopped")
	defer s.clients.closeAll()

	updates := s.bus.Subscribe(ctx, true)
	for ev := range updates {
		s.record(ev)
		s.broadcast(ev)
	}
}

func (s *Service) record(ev events.FanUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, ev)
	if over := len(s.history) - s.size; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// History returns a copy of the recorded updates, oldest first.
func (s *Service) History() []events.FanUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.FanUpdate, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) broadcast(ev events.FanUpdate) {
	if s.clients.len() == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to marshal broadcast: %v", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		s.log.Error("failed to prepare message: %v", err)
		return
	}
	s.clients.broadcast(pm, s.log)
}
