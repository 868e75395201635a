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

package policy

import (
	"testing"
	"time"

	"ecfand/internal/config"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestPercRoundTrip(t *testing.T) {
	for x := 0; x <= 255; x++ {
		got := Unperc(Perc(x))
		if d := got - x; d < -1 || d > 1 {
			t.Fatalf("unperc(perc(%d))=%d", x, got)
		}
	}
	if Perc(128) != 50 || Unperc(25) != 64 || Unperc(100) != 255 || Perc(0) != 0 {
		t.Fatalf("perc/unperc anchors wrong")
	}
}

func TestShouldWrite(t *testing.T) {
	st := NewState()
	if !ShouldWrite(0, st, 0, t0) {
		t.Fatalf("first write must fire")
	}
	st = st.Commit(100, 70, t0)
	cases := []struct {
		name    string
		speed   int
		refresh time.Duration
		at      time.Duration
		want    bool
	}{
		{"unchanged within refresh", 100, 2 * time.Second, time.Second, false},
		{"unchanged at refresh", 100, 2 * time.Second, 2 * time.Second, false},
		{"unchanged past refresh", 100, 2 * time.Second, 2*time.Second + time.Millisecond, true},
		{"changed", 101, 2 * time.Second, 0, true},
		{"no refresh", 100, 0, time.Hour, false},
	}
	for _, tc := range cases {
		if got := ShouldWrite(tc.speed, st, tc.refresh, t0.Add(tc.at)); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCommit_LastTempOnlyOnChange(t *testing.T) {
	st := NewState().Commit(50, 61, t0)
	st = st.Commit(50, 66, t0.Add(time.Second))
	if st.LastTemp != 61 {
		t.Fatalf("LastTemp=%d want 61", st.LastTemp)
	}
	if !st.LastWrite.Equal(t0.Add(time.Second)) {
		t.Fatalf("LastWrite not updated")
	}
	st = st.Commit(60, 68, t0.Add(2*time.Second))
	if st.LastTemp != 68 {
		t.Fatalf("LastTemp=%d want 68", st.LastTemp)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{config.PolicyPeakHold, config.PolicyCurve, config.PolicyTrend} {
		cfg.Policy = name
		p, err := FromConfig(cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != name {
			t.Fatalf("name=%q want %q", p.Name(), name)
		}
	}
	cfg.Policy = "pid"
	if _, err := FromConfig(cfg); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
