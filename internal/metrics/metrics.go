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

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ecTimeouts    *prometheus.CounterVec
	fanWrites     *prometheus.CounterVec
	writeErrors   prometheus.Counter
	readFailures  prometheus.Counter
	temperature   prometheus.Gauge
	speed         prometheus.Gauge
	failSafe      prometheus.Gauge
	tickDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ecTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecfand_ec_timeouts_total",
			Help: "EC status polls that ran out of budget, by primitive.",
		}, []string{"op"}),
		fanWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecfand_fan_writes_total",
			Help: "Fan speed writes sent to the EC, by reason.",
		}, []string{"reason"}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecfand_fan_write_errors_total",
			Help: "Fan speed writes that failed.",
		}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecfand_temperature_read_failures_total",
			Help: "Temperature reads that failed.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecfand_temperature_celsius",
			Help: "Last temperature read from the EC.",
		}),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecfand_fan_speed",
			Help: "Last fan speed written (0-255).",
		}),
		failSafe: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecfand_fail_safe",
			Help: "1 while the fan is forced to full speed after read failures.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ecfand_tick_duration_seconds",
			Help:    "Duration of one control loop tick, EC I/O included.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecfand_http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecfand_http_request_duration_seconds",
			Help:    "HTTP request durations, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ecTimeouts,
		m.fanWrites,
		m.writeErrors,
		m.readFailures,
		m.temperature,
		m.speed,
		m.failSafe,
		m.tickDuration,
		m.httpRequests,
		m.httpDurations,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ECTimeout matches the ec.Channel timeout hook signature.
func (m *Metrics) ECTimeout(op string) {
	if m == nil {
		return
	}
	m.ecTimeouts.WithLabelValues(op).Inc()
}

func (m *Metrics) FanWrite(reason string, speed int) {
	if m == nil {
		return
	}
	m.fanWrites.WithLabelValues(reason).Inc()
	m.speed.Set(float64(speed))
}

func (m *Metrics) FanWriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) ReadFailure() {
	if m == nil {
		return
	}
	m.readFailures.Inc()
}

func (m *Metrics) Temperature(c int) {
	if m == nil {
		return
	}
	m.temperature.Set(float64(c))
}

func (m *Metrics) FailSafe(on bool) {
	if m == nil {
		return
	}
	if on {
		m.failSafe.Set(1)
	} else {
		m.failSafe.Set(0)
	}
}

func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
