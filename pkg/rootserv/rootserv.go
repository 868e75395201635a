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

package rootserv

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"

	"ecfand/pkg/logger"
)

// Wrapper decorates a sub-server's handler, e.g. with request metrics.
type Wrapper func(route string, h http.Handler) http.Handler

// RootServer holds a mux and the list of attached sub-handlers.
type RootServer struct {
	log        *logger.Logger
	addr       string
	mux        *http.ServeMux
	wrap       Wrapper
	subservers map[string]string // path -> description
	mainPage   http.Handler      // optional subserver for '/'

	handler func() http.Handler

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new RootServer bound to an address.
func New(addr string) *RootServer {
	ms := &RootServer{
		addr:       addr,
		mux:        http.NewServeMux(),
		subservers: make(map[string]string),
		log:        logger.New("HTTPServer"),
	}
	ms.handler = sync.OnceValue(ms.build)
	return ms
}

// WithWrapper applies w to every handler attached afterwards.
func (ms *RootServer) WithWrapper(w Wrapper) *RootServer {
	ms.wrap = w
	return ms
}

// Attach registers a new subserver under a path.
// If path == "/", it becomes the main page.
func (ms *RootServer) Attach(path, desc string, handler http.Handler) {
	ms.log.Info("Attach: %s", path)

	route := strings.Trim(path, "/")
	if route == "" {
		route = "root"
	}
	if ms.wrap != nil {
		handler = ms.wrap(route, handler)
	}

	if path == "/" {
		ms.mainPage = handler
		return
	}

	// ServeMux subtree matching needs the trailing slash
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	strip := strings.TrimRight(path, "/")
	ms.subservers[strip] = desc
	ms.mux.Handle(path, http.StripPrefix(strip, handler))
}

// handleIndex generates the HTML index page listing all subservers.
func (ms *RootServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	fmt.Fprintln(w, "<!DOCTYPE html><html><head><title>ecfand</title></head><body>")
	fmt.Fprintln(w, "<h1>ecfand</h1><ul>")

	paths := make([]string, 0, len(ms.subservers))
	for path := range ms.subservers {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fmt.Fprintf(w, `<li><a href="%s/">%s</a> - %s</li>`, path, path, html.EscapeString(ms.subservers[path]))
	}
	fmt.Fprintln(w, "</ul></body></html>")
}

// Handler returns the complete handler: routes, root fallback and access
// logging into the daemon log.
func (ms *RootServer) Handler() http.Handler {
	return ms.handler()
}

func (ms *RootServer) build() http.Handler {
	ms.mux.HandleFunc("/index", ms.handleIndex)
	ms.mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		if ms.mainPage != nil {
			ms.mainPage.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/index", http.StatusTemporaryRedirect)
	})
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(logger.Writer(), ms.mux))
}

// Addr is the bound address once Run is listening.
func (ms *RootServer) Addr() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.listener == nil {
		return ""
	}
	return ms.listener.Addr().String()
}

// Run starts serving and blocks until the context is canceled.
func (ms *RootServer) Run(ctx context.Context) {
	ms.log.Info("Running on %s", ms.addr)

	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		ms.log.Error("listen %s: %v", ms.addr, err)
		return
	}
	ms.mu.Lock()
	ms.listener = ln
	ms.mu.Unlock()

	srv := &http.Server{
		Handler:           ms.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		ms.log.Info("Stopped")
	case err := <-errCh:
		ms.log.Error("Stopped: %v", err)
	}
}
