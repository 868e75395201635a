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
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDebug_OnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { EnableDebug(false) })

	l := New("Test")
	EnableDebug(false)
	l.Debug("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("debug written while disabled: %q", buf.String())
	}

	EnableDebug(true)
	l.Debug("shown %d", 2)
	if !strings.Contains(buf.String(), "[Test] DEBUG: shown 2") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestLevels_Prefix(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := New("EC")
	l.Info("a")
	l.Warn("b")
	l.Error("c")
	out := buf.String()
	for _, want := range []string{"[EC] INFO: a", "[EC] WARN: b", "[EC] ERROR: (logger_test.go:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestRing_KeepsTail(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(r, "line %d\n", i)
	}
	got := r.lines(0)
	want := []string{"line 2", "line 3", "line 4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := r.lines(1); len(got) != 1 || got[0] != "line 4" {
		t.Fatalf("lines(1)=%v", got)
	}
}

func TestRing_PartialWrites(t *testing.T) {
	r := newRing(4)
	r.Write([]byte("hel"))
	r.Write([]byte("lo\nwor"))
	if got := r.lines(0); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestWebService_ToggleVerbose(t *testing.T) {
	EnableDebug(false)
	t.Cleanup(func() { EnableDebug(false) })
	svc := WebService()

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verbose", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verbose", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("POST status=%d", rec.Code)
	}
	if !IsDebug() {
		t.Fatalf("verbose not enabled")
	}
}
