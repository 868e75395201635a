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

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ecfand/internal/ec"
	"ecfand/internal/events"
	"ecfand/pkg/eventbus"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestAPIState(t *testing.T) {
	bus := eventbus.New[events.FanUpdate]()
	svc := New(bus).WithECStats(func() ec.Stats { return ec.Stats{Transactions: 9, ReadTimeouts: 2} })

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var empty State
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatal(err)
	}
	if empty.Update != nil {
		t.Fatalf("update before any tick: %+v", empty.Update)
	}

	bus.Publish(events.FanUpdate{TemperatureC: 74, Valid: true, Speed: 102, Percent: 40, Policy: "curve"})
	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	var got State
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Update == nil || got.Update.TemperatureC != 74 || got.Update.Speed != 102 {
		t.Fatalf("state=%+v", got.Update)
	}
	if got.EC == nil || got.EC.ReadTimeouts != 2 || got.EC.Transactions != 9 {
		t.Fatalf("ec=%+v", got.EC)
	}
	if got.Bus.Published != 1 {
		t.Fatalf("bus=%+v", got.Bus)
	}
}

func TestHistory_Bounded(t *testing.T) {
	bus := eventbus.New[events.FanUpdate]()
	svc := New(bus).WithHistory(3)
	startService(t, svc)

	for i := 1; i <= 5; i++ {
		bus.Publish(events.FanUpdate{Speed: i})
		// latest-value bus: let the service see each one
		waitFor(t, "update recorded", func() bool {
			h := svc.History()
			return len(h) > 0 && h[len(h)-1].Speed == i
		})
	}

	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var hist []events.FanUpdate
	if err := json.NewDecoder(rec.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 || hist[0].Speed != 3 || hist[2].Speed != 5 {
		t.Fatalf("history=%+v", hist)
	}
}

func TestWebSocket_StreamsUpdates(t *testing.T) {
	bus := eventbus.New[events.FanUpdate]()
	svc := New(bus)
	startService(t, svc)

	srv := httptest.NewServer(svc)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://localhost"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	waitFor(t, "client registered", func() bool { return svc.clients.len() == 1 })
	bus.Publish(events.FanUpdate{TemperatureC: 88, Valid: true, Speed: 255, Percent: 100})

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.FanUpdate
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.TemperatureC != 88 || ev.Speed != 255 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestWebSocket_RejectsMissingOrigin(t *testing.T) {
	svc := New(eventbus.New[events.FanUpdate]())
	srv := httptest.NewServer(svc)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected handshake failure without Origin")
	}
}

func TestPage(t *testing.T) {
	svc := New(eventbus.New[events.FanUpdate]())
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "WebSocket") {
		t.Fatalf("status=%d", rec.Code)
	}
	rec = httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}
