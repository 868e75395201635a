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

package logger

import (
	"strings"
	"sync"
)

// ring is an io.Writer remembering the last size lines written to it.
type ring struct {
	mu    sync.Mutex
	buf   []string
	next  int
	full  bool
	carry string
}

func newRing(size int) *ring {
	return &ring{buf: make([]string, size)}
}

func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := r.carry + string(p)
	parts := strings.Split(text, "\n")
	// last element is either "" (line complete) or a partial line
	r.carry = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		r.buf[r.next] = line
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

func (r *ring) lines(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
