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
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"ecfand/pkg/logger"
)

// TemperatureSource returns the daemon's own reading and whether it is
// valid.
type TemperatureSource func() (celsius int, ok bool)

type Sensor struct {
	Key          string  `json:"key"`
	TemperatureC float64 `json:"temperature_c"`
}

type Snapshot struct {
	GoVersion string `json:"go_version"`
	CPU       struct {
		SystemPercent  float64 `json:"system_percent"`
		ProcessPercent float64 `json:"process_percent"`
	} `json:"cpu"`
	Memory struct {
		SystemTotal uint64 `json:"system_total"`
		SystemUsed  uint64 `json:"system_used"`
		SystemFree  uint64 `json:"system_free"`
		ProcessRSS  uint64 `json:"process_rss"`
	} `json:"memory"`
	Disk struct {
		Path  string `json:"path"`
		Total uint64 `json:"total"`
		Used  uint64 `json:"used"`
		Free  uint64 `json:"free"`
	} `json:"disk"`
	// EC reading next to the kernel's thermal sensors, for cross-checking
	ECTemperatureC *int     `json:"ec_temperature_c"`
	Sensors        []Sensor `json:"sensors"`
}

type Service struct {
	diskPath string
	ecTemp   TemperatureSource
	page     *template.Template
	log      *logger.Logger
}

// New monitors the host and the filesystem holding diskPath ("/" if empty).
func New(diskPath string) *Service {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Service{
		diskPath: diskPath,
		page:     template.Must(template.New("sysmon").Funcs(template.FuncMap{"gb": gb, "mb": mb}).Parse(pageTemplate)),
		log:      logger.New("System Monitor"),
	}
}

func (s *Service) WithTemperature(src TemperatureSource) *Service {
	s.ecTemp = src
	return s
}

// Collect samples the host. Failing probes leave their fields zero.
func (s *Service) Collect() Snapshot {
	var snap Snapshot
	snap.GoVersion = runtime.Version()

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPU.SystemPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.Memory.SystemTotal = vmem.Total
		snap.Memory.SystemUsed = vmem.Used
		snap.Memory.SystemFree = vmem.Available
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfo(); err == nil {
			snap.Memory.ProcessRSS = memInfo.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			snap.CPU.ProcessPercent = pct
		}
	}

	snap.Disk.Path = s.diskPath
	if total, free, used, err := DiskUsage(s.diskPath); err == nil {
		snap.Disk.Total, snap.Disk.Free, snap.Disk.Used = total, free, used
	} else {
		s.log.Debug("disk usage %s: %v", s.diskPath, err)
	}

	// partial results come with a warning error on some hosts
	temps, err := host.SensorsTemperatures()
	if err != nil {
		s.log.Debug("sensors: %v", err)
	}
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		snap.Sensors = append(snap.Sensors, Sensor{Key: t.SensorKey, TemperatureC: t.Temperature})
	}
	sort.Slice(snap.Sensors, func(i, j int) bool { return snap.Sensors[i].Key < snap.Sensors[j].Key })

	if s.ecTemp != nil {
		if c, ok := s.ecTemp(); ok {
			snap.ECTemperatureC = &c
		}
	}
	return snap
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := s.Collect()

	// JSON API
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			s.log.Error("failed to encode snapshot: %v", err)
		}
		return
	}

	// HTML dashboard
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, snap); err != nil {
		s.log.Error("failed to render page: %v", err)
	}
}

func gb(b uint64) string { return fmt.Sprintf("%.2f GB", float64(b)/(1024*1024*1024)) }
func mb(b uint64) string { return fmt.Sprintf("%.2f MB", float64(b)/(1024*1024)) }

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		h1 { color: #333; }
		table { border-collapse: collapse; width: 60%; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<h2>Temperatures</h2>
	<table>
		<tr><th>Sensor</th><th>°C</th></tr>
		<tr><td>EC</td><td>{{if .ECTemperatureC}}{{.ECTemperatureC}}{{else}}n/a{{end}}</td></tr>
		{{range .Sensors}}<tr><td>{{.Key}}</td><td>{{printf "%.1f" .TemperatureC}}</td></tr>
		{{end}}
	</table>
	<h2>CPU</h2>
	<table>
		<tr><th>System %</th><th>Process %</th></tr>
		<tr><td>{{printf "%.2f" .CPU.SystemPercent}}%</td><td>{{printf "%.2f" .CPU.ProcessPercent}}%</td></tr>
	</table>
	<h2>Memory</h2>
	<table>
		<tr><th>System Total</th><th>System Used</th><th>System Free</th><th>Process RSS</th></tr>
		<tr>
			<td>{{gb .Memory.SystemTotal}}</td>
			<td>{{gb .Memory.SystemUsed}}</td>
			<td>{{gb .Memory.SystemFree}}</td>
			<td>{{mb .Memory.ProcessRSS}}</td>
		</tr>
	</table>
	<h2>Disk ({{.Disk.Path}})</h2>
	<table>
		<tr><th>Total</th><th>Used</th><th>Free</th></tr>
		<tr><td>{{gb .Disk.Total}}</td><td>{{gb .Disk.Used}}</td><td>{{gb .Disk.Free}}</td></tr>
	</table>
	<p>Go {{.GoVersion}}</p>
</body>
</html>
`
