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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"ecfand/internal/ec"
	"ecfand/internal/events"
	"ecfand/pkg/eventbus"
)

type State struct {
	Update *events.FanUpdate `json:"update"`
	EC     *ec.Stats         `json:"ec,omitempty"`
	Bus    eventbus.Stats    `json:"bus"` // updates published, and overwritten before a subscriber read them
}

type routes struct {
	mux *http.ServeMux
}

func (s *Service) newRoutes() *routes {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleAPIState)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/ws", s.serveWebSockets())
	mux.HandleFunc("/", s.handlePage)
	return &routes{mux: mux}
}

// ServeHTTP implements http.Handler
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler().mux.ServeHTTP(w, r)
}

func (s *Service) handleAPIState(w http.ResponseWriter, r *http.Request) {
	state := State{Bus: s.bus.Stats()}
	if ev, ok := s.bus.Last(); ok {
		state.Update = &ev
	}
	if s.ecStats != nil {
		st := s.ecStats()
		state.EC = &st
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.log.Error("failed to encode state: %v", err)
	}
}

func (s *Service) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.History()); err != nil {
		s.log.Error("failed to encode history: %v", err)
	}
}

func (s *Service) serveWebSockets() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			s.log.Debug("checking origin: %s", origin)
			if origin == "" {
				return false
			}
			if strings.Contains(origin, "localhost") {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Error("failed to upgrade websocket: %v", err)
			return
		}
		s.clients.add(ws)
		defer func() {
			s.clients.remove(ws)
			ws.Close()
		}()

		// the stream is one way; reading only detects the close
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("websocket read: %v", err)
				}
				return
			}
		}
	}
}

func (s *Service) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}

const page = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>ecfand</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2em; background: #f9f9f9; color: #333; }
    .big { font-size: 3em; margin: 0.2em 0; }
    .warn { color: #c00; }
  </style>
</head>
<body>
  <h1>Fan</h1>
  <p class="big"><span id="temp">--</span> &deg;C</p>
  <p class="big"><span id="pct">--</span> % <small>(<span id="speed">--</span>)</small></p>
  <p>Policy: <span id="policy">--</span> <span id="failsafe" class="warn"></span></p>
  <script>
    const proto = location.protocol === "https:" ? "wss://" : "ws://";
    const ws = new WebSocket(proto + location.host + location.pathname.replace(/\/$/, "") + "/ws");
    ws.onmessage = (msg) => {
      const ev = JSON.parse(msg.data);
      if (ev.valid) document.getElementById("temp").textContent = ev.temperature_c;
      document.getElementById("pct").textContent = ev.percent;
      document.getElementById("speed").textContent = ev.speed;
      document.getElementById("policy").textContent = ev.policy;
      document.getElementById("failsafe").textContent = ev.fail_safe ? "FAIL-SAFE: sensor not responding" : "";
    };
  </script>
</body>
</html>
`
