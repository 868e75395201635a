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

package sysmon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
)

func TestCollect_IncludesECTemperature(t *testing.T) {
	svc := New(t.TempDir()).WithTemperature(func() (int, bool) { return 71, true })
	snap := svc.Collect()
	if snap.GoVersion != runtime.Version() {
		t.Fatalf("go version=%q", snap.GoVersion)
	}
	if snap.ECTemperatureC == nil || *snap.ECTemperatureC != 71 {
		t.Fatalf("ec temperature=%v", snap.ECTemperatureC)
	}

	svc = New("").WithTemperature(func() (int, bool) { return 0, false })
	if snap := svc.Collect(); snap.ECTemperatureC != nil || snap.Disk.Path != "/" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestServeHTTP_JSONAndHTML(t *testing.T) {
	svc := New("").WithTemperature(func() (int, bool) { return 64, true })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ECTemperatureC == nil || *snap.ECTemperatureC != 64 {
		t.Fatalf("json snapshot=%+v", snap)
	}

	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "<td>EC</td><td>64</td>") {
		t.Fatalf("html missing EC row")
	}
}

func TestNew_DefaultsToRootFilesystem(t *testing.T) {
	if got := New("").diskPath; got != "/" {
		t.Fatalf("diskPath=%q want /", got)
	}
}
