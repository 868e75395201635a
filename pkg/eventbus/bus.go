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

package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is an in-memory latest-value pub/sub for one event type.
// Each subscriber holds at most one pending event; a slow subscriber only
// ever sees the most recent one, so a publisher is never blocked.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	last    T
	hasLast bool
	nextID  uint64

	published atomic.Int64
	replaced  atomic.Int64
}

// Stats counts published events and events overwritten before delivery.
type Stats struct {
	Published int64 `json:"published"`
	Replaced  int64 `json:"replaced"`
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]chan T)}
}

// Publish stores ev as the latest event and hands it to every subscriber,
// replacing anything they have not consumed yet.
func (b *Bus[T]) Publish(ev T) {
	b.published.Add(1)

	// delivery never blocks, so it is done under the lock; this keeps
	// unsubscribe from closing a channel mid-send
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = ev
	b.hasLast = true
	for _, ch := range b.subs {
		b.replace(ch, ev)
	}
}

func (b *Bus[T]) replace(ch chan T, ev T) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
			b.replaced.Add(1)
		default:
		}
	}
}

// Subscribe returns a channel of events. With withLast the latest event, if
// any, is delivered right away. The channel is closed when ctx is done.
func (b *Bus[T]) Subscribe(ctx context.Context, withLast bool) <-chan T {
	ch := make(chan T, 1)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	if withLast && b.hasLast {
		b.replace(ch, b.last)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}()
	return ch
}

// Last returns the most recent event, if one was published.
func (b *Bus[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.hasLast
}

func (b *Bus[T]) Stats() Stats {
	return Stats{Published: b.published.Load(), Replaced: b.replaced.Load()}
}
