package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty"`
}

type GraphiteConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMs int    `json:"timeout_ms"`
}

type PrometheusConfig struct {
	Listen string `json:"listen"`
}

type OutputConfig struct {
	Type       string            `json:"type"`
	Graphite   *GraphiteConfig   `json:"graphite,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty"`
}

type Config struct {
	I2CBus        string         `json:"i2c_bus"`
	I2CAddress    int            `json:"i2c_address"`
	DualReadMode  bool           `json:"dual_read_mode"`
	HeaterOn      bool           `json:"heater_on"`
	SensorType    string         `json:"sensor_type"`
	Location      string         `json:"location"`
	Samples       int            `json:"samples"`
	SampleDelayMs int            `json:"sample_delay_ms"`
	IntervalMs    int            `json:"interval_ms"`
	LogLevel      string         `json:"log_level"`
	Outputs       []OutputConfig `json:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		I2CBus:        "1",
		I2CAddress:    0x40,
		DualReadMode:  true,
		HeaterOn:      false,
		SensorType:    "real",
		Location:      "kitchen",
		Samples:       10,
		SampleDelayMs: 100,
		IntervalMs:    120000,
		LogLevel:      "info",
		Outputs: []OutputConfig{
			{Type: "console"},
			{Type: "graphite", Graphite: &GraphiteConfig{Host: "localhost", Port: 2004, TimeoutMs: 10000}},
		},
	}
}

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load reads an optional JSON file (-config) and applies the flags in args.
// Flags override values present in the JSON file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("hdc1080-to-graphite", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagDualRead := fs.Bool("dual-read-mode", true, "Set the dual read mode bit at start-up")
	flagHeater := fs.Bool("heater", false, "Turn the sensor heater on at start-up")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagLocation := fs.String("location", "", "Location label, prefix of the metric paths")
	flagSamples := fs.Int("samples", -1, "Readings averaged per batch")
	flagSampleDelay := fs.Int("sample-delay-ms", -1, "Delay between readings in ms")
	flagInterval := fs.Int("interval-ms", -1, "Batch interval in ms")
	flagLogLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,graphite,mqtt,prometheus)")
	flagGraphiteHost := fs.String("graphite-host", "", "Graphite carbon host")
	flagGraphitePort := fs.Int("graphite-port", -1, "Graphite carbon pickle port")
	flagGraphiteTimeout := fs.Int("graphite-timeout-ms", -1, "Graphite connect timeout in ms")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic base")
	flagPromListen := fs.String("prometheus-listen", "", "Prometheus metrics listen address")

	cfg := DefaultConfig()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		defaults := cfg.Outputs
		cfg.Outputs = nil
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrap(err, "parse config")
		}
		if cfg.Outputs == nil {
			cfg.Outputs = defaults
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *flagI2CBus != "" {
		cfg.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, errors.Wrap(err, "i2c-address")
		}
		cfg.I2CAddress = v
	}
	if set["dual-read-mode"] {
		cfg.DualReadMode = *flagDualRead
	}
	if set["heater"] {
		cfg.HeaterOn = *flagHeater
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagLocation != "" {
		cfg.Location = *flagLocation
	}
	if *flagSamples != -1 {
		cfg.Samples = *flagSamples
	}
	if *flagSampleDelay != -1 {
		cfg.SampleDelayMs = *flagSampleDelay
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if *flagGraphiteHost != "" || *flagGraphitePort != -1 || *flagGraphiteTimeout != -1 {
		g := outputOf(&cfg, "graphite")
		if g.Graphite == nil {
			g.Graphite = &GraphiteConfig{}
		}
		if *flagGraphiteHost != "" {
			g.Graphite.Host = *flagGraphiteHost
		}
		if *flagGraphitePort != -1 {
			g.Graphite.Port = *flagGraphitePort
		}
		if *flagGraphiteTimeout != -1 {
			g.Graphite.TimeoutMs = *flagGraphiteTimeout
		}
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		m := outputOf(&cfg, "mqtt")
		if m.MQTT == nil {
			m.MQTT = &MQTTConfig{}
		}
		if *flagMQTTServer != "" {
			m.MQTT.Server = *flagMQTTServer
		}
		if *flagMQTTUser != "" {
			m.MQTT.Username = *flagMQTTUser
		}
		if *flagMQTTPass != "" {
			m.MQTT.Password = *flagMQTTPass
		}
		if *flagClientID != "" {
			m.MQTT.ClientID = *flagClientID
		}
		if *flagTopic != "" {
			m.MQTT.StateTopic = *flagTopic
		}
	}
	if *flagPromListen != "" {
		p := outputOf(&cfg, "prometheus")
		if p.Prometheus == nil {
			p.Prometheus = &PrometheusConfig{}
		}
		p.Prometheus.Listen = *flagPromListen
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Samples <= 0 {
		return errors.New("samples must be > 0")
	}
	if c.SampleDelayMs < 0 {
		return errors.New("sample-delay-ms must be >= 0")
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if c.Location == "" {
		return errors.New("location must not be empty")
	}
	if c.I2CAddress < 0 || c.I2CAddress > 0x7F {
		return errors.Errorf("i2c-address 0x%X out of range", c.I2CAddress)
	}
	switch c.SensorType {
	case "real", "simulation":
	default:
		return errors.Errorf("unknown sensor type %q", c.SensorType)
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console", "graphite", "mqtt", "prometheus":
		default:
			return errors.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// outputOf returns the first output of type typ, appending one if missing.
func outputOf(cfg *Config, typ string) *OutputConfig {
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) == typ {
			return &cfg.Outputs[i]
		}
	}
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: typ})
	return &cfg.Outputs[len(cfg.Outputs)-1]
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
