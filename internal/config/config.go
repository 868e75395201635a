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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ecfand/internal/ec"
)

const (
	PolicyPeakHold = "peakhold"
	PolicyCurve    = "curve"
	PolicyTrend    = "trend"
)

type ECConfig struct {
	Device       string        `yaml:"device"`
	CommandPolls int           `yaml:"command_polls"`
	DataPolls    int           `yaml:"data_polls"`
	ReadPolls    int           `yaml:"read_polls"`
	FlushLimit   int           `yaml:"flush_limit"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// Limits converts the poll settings for ec.NewChannel.
func (c ECConfig) Limits() ec.Limits {
	return ec.Limits{
		CommandPolls: c.CommandPolls,
		DataPolls:    c.DataPolls,
		ReadPolls:    c.ReadPolls,
		FlushLimit:   c.FlushLimit,
		Timeout:      c.PollTimeout,
	}
}

type LoopConfig struct {
	// 0 selects the period of the active policy
	Period          time.Duration `yaml:"period"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

type PeakHoldConfig struct {
	OffTemp  int           `yaml:"off_temp"`
	MaxTemp  int           `yaml:"max_temp"`
	MinSpeed int           `yaml:"min_speed"`
	Hold     time.Duration `yaml:"hold"`
	Refresh  time.Duration `yaml:"refresh"`
}

type CurveConfig struct {
	OffTemp  int           `yaml:"off_temp"`
	P25Temp  int           `yaml:"p25_temp"`
	P50Temp  int           `yaml:"p50_temp"`
	P75Temp  int           `yaml:"p75_temp"`
	P100Temp int           `yaml:"p100_temp"`
	MinSpeed int           `yaml:"min_speed"`
	Refresh  time.Duration `yaml:"refresh"`
}

type TrendConfig struct {
	MinTemp        int           `yaml:"min_temp"`
	MaxTemp        int           `yaml:"max_temp"`
	RaiseReaction  time.Duration `yaml:"raise_reaction"`
	LowerReaction  time.Duration `yaml:"lower_reaction"`
	RaiseIncrement int           `yaml:"raise_increment"`
	LowerDecrement int           `yaml:"lower_decrement"`
	MinPercent     int           `yaml:"min_percent"`
	MaxPercent     int           `yaml:"max_percent"`
	Refresh        time.Duration `yaml:"refresh"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type Config struct {
	Policy   string         `yaml:"policy"`
	EC       ECConfig       `yaml:"ec"`
	Loop     LoopConfig     `yaml:"loop"`
	PeakHold PeakHoldConfig `yaml:"peakhold"`
	Curve    CurveConfig    `yaml:"curve"`
	Trend    TrendConfig    `yaml:"trend"`

	HTTPAddr string     `yaml:"http_addr"` // empty disables the status server
	LogFile  string     `yaml:"log_file"`  // empty logs to stdout only
	MQTT     MQTTConfig `yaml:"mqtt"`      // empty broker disables telemetry
}

// Default is the built-in configuration. It needs no file.
func Default() Config {
	limits := ec.DefaultLimits()
	return Config{
		Policy: PolicyPeakHold,
		EC: ECConfig{
			Device:       "/dev/port",
			CommandPolls: limits.CommandPolls,
			DataPolls:    limits.DataPolls,
			ReadPolls:    limits.ReadPolls,
			FlushLimit:   limits.FlushLimit,
		},
		Loop: LoopConfig{MaxReadFailures: 8},
		PeakHold: PeakHoldConfig{
			OffTemp:  70,
			MaxTemp:  90,
			MinSpeed: 100,
			Hold:     10 * time.Second,
			Refresh:  10 * time.Second,
		},
		Curve: CurveConfig{
			OffTemp:  65,
			P25Temp:  70,
			P50Temp:  78,
			P75Temp:  82,
			P100Temp: 85,
			MinSpeed: 40,
			Refresh:  2 * time.Second,
		},
		Trend: TrendConfig{
			MinTemp:        60,
			MaxTemp:        75,
			RaiseReaction:  2 * time.Second,
			LowerReaction:  10 * time.Second,
			RaiseIncrement: 10,
			LowerDecrement: 5,
			MinPercent:     20,
			MaxPercent:     100,
			Refresh:        10 * time.Second,
		},
		MQTT: MQTTConfig{
			Topic:    "ecfand/fan",
			ClientID: "ecfand",
		},
	}
}

// Load reads path on top of Default and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Period is the loop period, falling back to the active policy's default.
func (c Config) Period() time.Duration {
	if c.Loop.Period > 0 {
		return c.Loop.Period
	}
	if c.Policy == PolicyPeakHold {
		return 500 * time.Millisecond
	}
	return 250 * time.Millisecond
}

func (c Config) Validate() error {
	switch c.Policy {
	case PolicyPeakHold, PolicyCurve, PolicyTrend:
	default:
		return fmt.Errorf("policy must be one of %s, %s, %s (got %q)", PolicyPeakHold, PolicyCurve, PolicyTrend, c.Policy)
	}
	if c.Loop.Period < 0 {
		return fmt.Errorf("loop.period must be >= 0 (0 = policy default)")
	}
	if c.Loop.MaxReadFailures < 0 {
		return fmt.Errorf("loop.max_read_failures must be >= 0")
	}
	if c.EC.CommandPolls <= 0 || c.EC.DataPolls <= 0 || c.EC.ReadPolls <= 0 || c.EC.FlushLimit <= 0 {
		return fmt.Errorf("ec poll limits must be > 0")
	}
	if c.EC.PollTimeout < 0 {
		return fmt.Errorf("ec.poll_timeout must be >= 0")
	}

	p := c.PeakHold
	if p.MaxTemp <= p.OffTemp {
		return fmt.Errorf("peakhold.max_temp must be above peakhold.off_temp")
	}
	if !validSpeed(p.MinSpeed) {
		return fmt.Errorf("peakhold.min_speed must be within 0..255")
	}
	if p.Hold < 0 || p.Refresh < 0 {
		return fmt.Errorf("peakhold durations must be >= 0")
	}

	cv := c.Curve
	temps := []int{cv.OffTemp, cv.P25Temp, cv.P50Temp, cv.P75Temp, cv.P100Temp}
	for i := 1; i < len(temps); i++ {
		if temps[i] <= temps[i-1] {
			return fmt.Errorf("curve thresholds must be strictly increasing")
		}
	}
	if !validSpeed(cv.MinSpeed) {
		return fmt.Errorf("curve.min_speed must be within 0..255")
	}
	if cv.Refresh < 0 {
		return fmt.Errorf("curve.refresh must be >= 0")
	}

	t := c.Trend
	if t.MaxTemp < t.MinTemp {
		return fmt.Errorf("trend.max_temp must not be below trend.min_temp")
	}
	if t.RaiseReaction <= 0 || t.LowerReaction <= 0 {
		return fmt.Errorf("trend reaction times must be > 0")
	}
	if !validPercent(t.MinPercent) || !validPercent(t.MaxPercent) || t.MaxPercent < t.MinPercent {
		return fmt.Errorf("trend percentages must satisfy 0 <= min_percent <= max_percent <= 100")
	}
	if t.RaiseIncrement <= 0 || t.LowerDecrement <= 0 {
		return fmt.Errorf("trend.raise_increment and trend.lower_decrement must be > 0")
	}
	if t.Refresh < 0 {
		return fmt.Errorf("trend.refresh must be >= 0")
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
	}
	return nil
}

func validSpeed(v int) bool   { return v >= 0 && v <= 255 }
func validPercent(v int) bool { return v >= 0 && v <= 100 }
