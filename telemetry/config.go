package telemetry

import (
	"fmt"
	"io/ioutil"
	"math"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"
)

// Gateway kinds
const (
	GatewayHardware  = "hardware"
	GatewaySimulated = "simulated"
)

var tableNameRegex = regexp.MustCompile(`^\w+$`)

// Config is the main configuration
type Config struct {
	Env                   string         `yaml:"env"`
	IntervalSeconds       float64        `yaml:"interval_seconds"`
	HistorySpanSeconds    float64        `yaml:"history_span_seconds"`
	HistoryCapacity       int            `yaml:"history_capacity"`
	GatewayTimeoutSeconds float64        `yaml:"gateway_timeout_seconds"`
	Threshold             *float64       `yaml:"threshold_c"`
	Sensors               []SensorConfig `yaml:"sensors"`
	Gateway               GatewayConfig  `yaml:"gateway"`
	Hub                   HubConfig      `yaml:"hub"`
	HTTP                  HTTPConfig     `yaml:"http"`
	AMQP                  AMQPConfig     `yaml:"amqp"`
	MySQL                 MySQLConfig    `yaml:"mysql"`
}

// SensorConfig binds an alias to an optional 1-Wire device id
type SensorConfig struct {
	Alias  string `yaml:"alias"`
	Device string `yaml:"device"`
}

// GatewayConfig selects and configures the hardware access layer
type GatewayConfig struct {
	Kind        string `yaml:"kind"`
	W1Base      string `yaml:"w1_base"`
	PumpPin     int    `yaml:"pump_pin"`
	RelayVPin   int    `yaml:"relay_v_pin"`
	TriggerPin  int    `yaml:"trigger_pin"`
	ActiveLevel *int   `yaml:"active_level"`
}

// HubConfig configures the broadcast hub
type HubConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// HTTPConfig configures the viewer-facing server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates it
func LoadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return ParseConfig(raw)
}

// ParseConfig decodes YAML, applies defaults and validates the result
func ParseConfig(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "prod"
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 2
	}
	if c.HistorySpanSeconds == 0 {
		c.HistorySpanSeconds = 600
	}
	if len(c.Sensors) == 0 {
		c.Sensors = []SensorConfig{{Alias: "sensor_1"}, {Alias: "sensor_2"}, {Alias: "sensor_3"}}
	}
	if c.Gateway.Kind == "" {
		if c.Env == "dev" {
			c.Gateway.Kind = GatewaySimulated
		} else {
			c.Gateway.Kind = GatewayHardware
		}
	}
	if c.Gateway.W1Base == "" {
		c.Gateway.W1Base = "/sys/bus/w1/devices"
	}
	if c.Gateway.PumpPin == 0 {
		c.Gateway.PumpPin = 27
	}
	if c.Gateway.RelayVPin == 0 {
		c.Gateway.RelayVPin = 22
	}
	if c.Gateway.TriggerPin == 0 {
		c.Gateway.TriggerPin = 23
	}
	if c.Gateway.ActiveLevel == nil {
		high := 1
		c.Gateway.ActiveLevel = &high
	}
	if c.Hub.QueueSize == 0 {
		c.Hub.QueueSize = DefaultQueueSize
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "telemetry"
	}
	if c.AMQP.RoutingPrefix == "" {
		c.AMQP.RoutingPrefix = "probes"
	}
	if c.MySQL.Table == "" {
		c.MySQL.Table = "probe_reading"
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = int(math.Ceil(c.HistorySpanSeconds / c.IntervalSeconds))
	}
}

func (c *Config) validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be > 0")
	}
	if c.GatewayTimeoutSeconds < 0 {
		return fmt.Errorf("gateway_timeout_seconds must be >= 0")
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity must be >= 1")
	}
	if c.Hub.QueueSize < 1 {
		return fmt.Errorf("hub.queue_size must be >= 1")
	}

	seen := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.Alias == "" {
			return fmt.Errorf("sensors[%d].alias is required", i)
		}
		if seen[s.Alias] {
			return fmt.Errorf("sensors[%d].alias %q is duplicated", i, s.Alias)
		}
		seen[s.Alias] = true
	}

	switch c.Gateway.Kind {
	case GatewayHardware, GatewaySimulated:
	default:
		return fmt.Errorf("gateway.kind %q is not one of %s, %s", c.Gateway.Kind, GatewayHardware, GatewaySimulated)
	}
	if c.Gateway.PumpPin == c.Gateway.RelayVPin ||
		(c.Gateway.TriggerPin >= 0 && (c.Gateway.TriggerPin == c.Gateway.PumpPin || c.Gateway.TriggerPin == c.Gateway.RelayVPin)) {
		return fmt.Errorf("gateway pins must be distinct")
	}
	if l := *c.Gateway.ActiveLevel; l != 0 && l != 1 {
		return fmt.Errorf("gateway.active_level must be 0 or 1")
	}
	if c.AMQP.DSN != "" && !topicPrefixRegex.MatchString(c.AMQP.RoutingPrefix) {
		return fmt.Errorf("amqp.routing_prefix %q is not a valid routing key prefix", c.AMQP.RoutingPrefix)
	}
	if c.MySQL.DSN != "" && !tableNameRegex.MatchString(c.MySQL.Table) {
		return fmt.Errorf("mysql.table %q is not a valid table name", c.MySQL.Table)
	}

	return nil
}

// SensorIDs returns the fixed probe list in configured order
func (c *Config) SensorIDs() []SensorID {
	ids := make([]SensorID, len(c.Sensors))
	for i, s := range c.Sensors {
		ids[i] = SensorID(s.Alias)
	}
	return ids
}

// Interval returns the sampling period P
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// GatewayTimeout returns the gateway read bound, zero when disabled
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds * float64(time.Second))
}

// SamplerConfig derives the Sampler settings
func (c *Config) SamplerConfig() SamplerConfig {
	return SamplerConfig{
		Sensors:  c.SensorIDs(),
		Interval: c.Interval(),
		Timeout:  c.GatewayTimeout(),
	}
}
