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

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"ecfand/internal/config"
	"ecfand/internal/ec"
	"ecfand/internal/events"
	"ecfand/internal/fanloop"
	"ecfand/internal/metrics"
	"ecfand/internal/policy"
	"ecfand/internal/status"
	"ecfand/internal/telemetry"
	"ecfand/pkg/appctx"
	"ecfand/pkg/eventbus"
	"ecfand/pkg/logger"
	"ecfand/pkg/rootserv"
	"ecfand/pkg/service"
	"ecfand/pkg/sysmon"
)

func main() {
	var (
		verbose    bool
		configPath string
		policyName string
		simulate   bool
		simLoad    float64
	)
	flag.BoolVar(&verbose, "v", false, "Print temperature and fan decisions every iteration")
	flag.BoolVar(&verbose, "verbose", false, "Same as -v")
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional)")
	flag.StringVar(&policyName, "policy", "", "Fan policy: peakhold, curve or trend (overrides config)")
	flag.BoolVar(&simulate, "simulate", false, "Drive a simulated EC instead of the hardware")
	flag.Float64Var(&simLoad, "sim-load", 50, "Simulated heat above ambient in °C with the fan off")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fail("config: %v", err)
	}
	if policyName != "" {
		cfg.Policy = policyName
		if err := cfg.Validate(); err != nil {
			fail("config: %v", err)
		}
	}

	if err := logger.Init(cfg.LogFile); err != nil {
		fail("log: %v", err)
	}
	logger.EnableDebug(verbose)
	log := logger.New("Main")

	m := metrics.New()

	var port ec.Port
	if simulate {
		log.Info("using simulated EC, load %.0f°C", simLoad)
		port = ec.NewSimPort().WithLoad(simLoad)
	} else {
		port = ec.OpenDevPort(cfg.EC.Device)
	}
	channel := ec.NewChannel(port, cfg.EC.Limits()).WithTimeoutHook(m.ECTimeout)
	if err := channel.Acquire(); err != nil {
		if errors.Is(err, ec.ErrPermission) {
			fail("cannot access EC ports 0x%02X/0x%02X: %v", ec.CommandPort, ec.DataPort, err)
		}
		fail("acquire EC: %v", err)
	}

	fanPolicy, err := policy.FromConfig(cfg)
	if err != nil {
		fail("%v", err)
	}

	bus := eventbus.New[events.FanUpdate]()
	loop := fanloop.New(ec.NewTemperatureSensor(channel), ec.NewFanActuator(channel), fanPolicy).
		WithPeriod(cfg.Period()).
		WithMaxReadFailures(cfg.Loop.MaxReadFailures).
		WithBus(bus).
		WithMetrics(m)

	services := []service.Runnable{loop}

	if cfg.HTTPAddr != "" {
		statusService := status.New(bus).WithECStats(channel.Stats)
		monitor := sysmon.New(logDisk(cfg.LogFile)).WithTemperature(func() (int, bool) {
			ev, ok := bus.Last()
			return ev.TemperatureC, ok && ev.Valid
		})

		server := rootserv.New(cfg.HTTPAddr).WithWrapper(m.WrapHandler)
		server.Attach("/fan", "Fan status", statusService)
		server.Attach("/monitor", "System Monitor", monitor)
		server.Attach("/logger", "Logger", logger.WebService())
		server.Attach("/metrics", "Prometheus metrics", m.Handler())
		services = append(services, statusService, server)
	}

	if cfg.MQTT.Broker != "" {
		services = append(services, telemetry.New(cfg.MQTT, bus))
	}

	log.Info("policy=%s period=%s verbose=%v", fanPolicy.Name(), cfg.Period(), verbose)

	ctx, ctxCancel := appctx.New()
	exitCh := service.Start(ctx, ctxCancel, services)

	// waits for all services to stop
	code := <-exitCh
	channel.Close()
	logger.Close()
	os.Exit(code)
}

// logDisk is the directory whose filesystem the monitor reports; "" lets
// sysmon fall back to the root filesystem.
func logDisk(logFile string) string {
	if logFile == "" {
		return ""
	}
	return filepath.Dir(logFile)
}

func fail(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "ecfand: "+format+"\n", v...)
	os.Exit(1)
}
