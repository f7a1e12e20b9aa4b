package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Roster sources.
const (
	RosterSimulator = "simulator"
	RosterAMI       = "ami"
	RosterNone      = "none"
)

type Config struct {
	SIP       SIPConfig       `yaml:"sip"`
	Softphone SoftphoneConfig `yaml:"softphone"`
	Roster    RosterConfig    `yaml:"roster"`
	AMI       AMIConfig       `yaml:"ami"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Backend   BackendConfig   `yaml:"backend"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// SIPConfig is the line registration. Extension may be left empty and
// fetched from the backend's sip-config endpoint instead.
type SIPConfig struct {
	Server    string `yaml:"server"`
	Port      string `yaml:"port"`
	Protocol  string `yaml:"protocol"`
	Domain    string `yaml:"domain"`
	Extension string `yaml:"extension"`
	Secret    string `yaml:"secret"`
}

type SoftphoneConfig struct {
	ConnectDelay    time.Duration `yaml:"connect_delay"`
	RingDelay       time.Duration `yaml:"ring_delay"`
	TeardownDelay   time.Duration `yaml:"teardown_delay"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type RosterConfig struct {
	Source    string          `yaml:"source"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

type SimulatorConfig struct {
	MaxCalls         int     `yaml:"max_calls"`
	StartProbability float64 `yaml:"start_probability"`
	EndProbability   float64 `yaml:"end_probability"`
	Seed             uint64  `yaml:"seed"`
}

type AMIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Secret         string        `yaml:"secret"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
}

type BackendConfig struct {
	URL      string        `yaml:"url"`
	Email    string        `yaml:"email"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *AMIConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Default returns the configuration used for any field the file omits.
func Default() *Config {
	return &Config{
		SIP: SIPConfig{
			Protocol: "WSS",
		},
		Softphone: SoftphoneConfig{
			ConnectDelay:    1 * time.Second,
			RingDelay:       2500 * time.Millisecond,
			TeardownDelay:   500 * time.Millisecond,
			RefreshInterval: 2 * time.Second,
		},
		Roster: RosterConfig{
			Source: RosterSimulator,
			Simulator: SimulatorConfig{
				MaxCalls:         5,
				StartProbability: 0.3,
				EndProbability:   0.1,
			},
		},
		AMI: AMIConfig{
			Host:           "127.0.0.1",
			Port:           5038,
			ReconnectDelay: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "cloudconnect-softphone",
			TopicPrefix: "cloudconnect",
			QoS:         1,
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.SIP.Protocol) {
	case "WSS", "UDP", "TCP", "TLS":
		c.SIP.Protocol = strings.ToUpper(c.SIP.Protocol)
	default:
		return fmt.Errorf("sip.protocol must be one of WSS, UDP, TCP, TLS, got %q", c.SIP.Protocol)
	}
	if c.SIP.Extension != "" && c.SIP.Server == "" {
		return fmt.Errorf("sip.server is required when sip.extension is set")
	}

	if c.Softphone.ConnectDelay < 0 || c.Softphone.RingDelay < 0 || c.Softphone.TeardownDelay < 0 {
		return fmt.Errorf("softphone delays must not be negative")
	}
	if c.Softphone.RefreshInterval <= 0 {
		return fmt.Errorf("softphone.refresh_interval must be positive, got %s", c.Softphone.RefreshInterval)
	}

	switch c.Roster.Source {
	case RosterSimulator:
		sim := c.Roster.Simulator
		if sim.MaxCalls < 0 {
			return fmt.Errorf("roster.simulator.max_calls must not be negative, got %d", sim.MaxCalls)
		}
		if !isProbability(sim.StartProbability) || !isProbability(sim.EndProbability) {
			return fmt.Errorf("roster.simulator probabilities must be between 0 and 1")
		}
	case RosterAMI:
		if err := c.AMI.validate(); err != nil {
			return err
		}
	case RosterNone:
	default:
		return fmt.Errorf("roster.source must be one of simulator, ami, none, got %q", c.Roster.Source)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.Backend.URL != "" && c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	return nil
}

func (a *AMIConfig) validate() error {
	if a.Host == "" {
		return fmt.Errorf("ami.host is required")
	}
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("ami.port must be between 1 and 65535, got %d", a.Port)
	}
	if a.Username == "" {
		return fmt.Errorf("ami.username is required")
	}
	if a.Secret == "" {
		return fmt.Errorf("ami.secret is required")
	}
	if a.ReconnectDelay <= 0 {
		return fmt.Errorf("ami.reconnect_delay must be positive, got %s", a.ReconnectDelay)
	}
	return nil
}

func isProbability(p float64) bool {
	return p >= 0 && p <= 1
}
