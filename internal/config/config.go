// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration values.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Tracking TrackingConfig `yaml:"tracking"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Web      WebConfig      `yaml:"web"`
	Display  DisplayConfig  `yaml:"display"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
	Console  ConsoleConfig  `yaml:"console"`
}

type SerialConfig struct {
	// Driver is "jacobsa" or "bugst".
	Driver string `yaml:"driver"`
	// SearchAllPorts sweeps every port and baud rate. When false, Port and
	// BaudIndex are used directly.
	SearchAllPorts bool `yaml:"search_all_ports"`
	Port           int  `yaml:"port"`
	BaudIndex      int  `yaml:"baud_index"`
	// ResumeLast tries the last good connection from the store before
	// falling back to SearchAllPorts.
	ResumeLast bool `yaml:"resume_last"`

	FirstPort   int           `yaml:"first_port"`
	LastPort    int           `yaml:"last_port"`
	PortPattern string        `yaml:"port_pattern"`
	Enumerate   bool          `yaml:"enumerate"`
	ProbeLines  int           `yaml:"probe_lines"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type TrackingConfig struct {
	// Thresholds stay strings; they are validated when acquisition starts.
	DistanceKm         string        `yaml:"distance_km"`
	MinIntervalSeconds string        `yaml:"min_interval_seconds"`
	MaxLines           int           `yaml:"max_lines"`
	ReadErrorLimit     int           `yaml:"read_error_limit"`
	StopGrace          time.Duration `yaml:"stop_grace"`
	TargetEPSG         int           `yaml:"target_epsg"`
	AutoStart          bool          `yaml:"auto_start"`
}

type MQTTConfig struct {
	Enable          bool   `yaml:"enable"`
	Broker          string `yaml:"broker"`
	ClientIDTracker string `yaml:"client_id_tracker"`
	ClientIDConsole string `yaml:"client_id_console"`
	TopicPosition   string `yaml:"topic_position"`
	TopicStatus     string `yaml:"topic_status"`
}

type WebConfig struct {
	Enable    bool   `yaml:"enable"`
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
}

type DisplayConfig struct {
	Enable bool `yaml:"enable"`
	// I2CBus is a periph bus name; empty picks the first bus. The panel is
	// expected at the SSD1306 default address 0x3C.
	I2CBus         string        `yaml:"i2c_bus"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ConsoleConfig struct {
	// Replay is the NMEA file read by the console replay tool.
	Replay string        `yaml:"replay"`
	Pace   time.Duration `yaml:"pace"`
}

// Load reads the configuration file, applies defaults and validates it.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and checks the result.
func (c *Config) DefaultAndValidate() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Serial.Driver == "" {
		c.Serial.Driver = "jacobsa"
	}
	if c.Serial.FirstPort == 0 && c.Serial.LastPort == 0 {
		c.Serial.LastPort = 18
	}
	if c.Serial.PortPattern == "" {
		c.Serial.PortPattern = "/dev/ttyUSB%d"
	}
	if c.Serial.ProbeLines == 0 {
		c.Serial.ProbeLines = 10
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = 250 * time.Millisecond
	}

	if c.Tracking.DistanceKm == "" {
		c.Tracking.DistanceKm = "0.01"
	}
	if c.Tracking.MinIntervalSeconds == "" {
		c.Tracking.MinIntervalSeconds = "1"
	}
	if c.Tracking.MaxLines == 0 {
		c.Tracking.MaxLines = 20
	}
	if c.Tracking.ReadErrorLimit == 0 {
		c.Tracking.ReadErrorLimit = 5
	}
	if c.Tracking.StopGrace == 0 {
		c.Tracking.StopGrace = 2 * time.Second
	}
	if c.Tracking.TargetEPSG == 0 {
		c.Tracking.TargetEPSG = 3857
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientIDTracker == "" {
		c.MQTT.ClientIDTracker = "gps-tracker"
	}
	if c.MQTT.ClientIDConsole == "" {
		c.MQTT.ClientIDConsole = "gps-console"
	}
	if c.MQTT.TopicPosition == "" {
		c.MQTT.TopicPosition = "gps/position"
	}
	if c.MQTT.TopicStatus == "" {
		c.MQTT.TopicStatus = "gps/status"
	}

	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Web.StaticDir == "" {
		c.Web.StaticDir = "./web"
	}

	if c.Display.UpdateInterval == 0 {
		c.Display.UpdateInterval = time.Second
	}

	if c.Store.Path == "" {
		c.Store.Path = "gps_tracker.db"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Console.Pace == 0 {
		c.Console.Pace = 100 * time.Millisecond
	}
}

const baudRateCount = 8

func (c *Config) validate() error {
	switch c.Serial.Driver {
	case "jacobsa", "bugst":
	default:
		return fmt.Errorf("serial.driver must be jacobsa or bugst, got %q", c.Serial.Driver)
	}
	if c.Serial.FirstPort < 0 || c.Serial.LastPort < c.Serial.FirstPort {
		return fmt.Errorf("serial ports must satisfy 0 <= first_port <= last_port, got %d..%d", c.Serial.FirstPort, c.Serial.LastPort)
	}
	if !c.Serial.SearchAllPorts {
		if c.Serial.Port < 0 {
			return fmt.Errorf("serial.port must be >= 0, got %d", c.Serial.Port)
		}
		if c.Serial.BaudIndex < 0 || c.Serial.BaudIndex >= baudRateCount {
			return fmt.Errorf("serial.baud_index must be 0-%d, got %d", baudRateCount-1, c.Serial.BaudIndex)
		}
	}
	if c.Serial.ProbeLines < 0 {
		return fmt.Errorf("serial.probe_lines must be > 0, got %d", c.Serial.ProbeLines)
	}
	if c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial.read_timeout must be > 0, got %s", c.Serial.ReadTimeout)
	}

	if c.Tracking.MaxLines < 0 {
		return fmt.Errorf("tracking.max_lines must be > 0, got %d", c.Tracking.MaxLines)
	}
	if c.Tracking.ReadErrorLimit < 0 {
		return fmt.Errorf("tracking.read_error_limit must be > 0, got %d", c.Tracking.ReadErrorLimit)
	}
	switch c.Tracking.TargetEPSG {
	case 3857, 4326:
	default:
		return fmt.Errorf("tracking.target_epsg must be 3857 or 4326, got %d", c.Tracking.TargetEPSG)
	}

	if c.MQTT.Enable && c.MQTT.TopicPosition == c.MQTT.TopicStatus {
		return fmt.Errorf("mqtt.topic_position and mqtt.topic_status must differ")
	}
	if c.Display.Enable && c.Display.UpdateInterval < 0 {
		return fmt.Errorf("display.update_interval must be > 0, got %s", c.Display.UpdateInterval)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
