package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
sip:
  server: wss://sip.example.com
  port: "8089"
  protocol: wss
  domain: example.com
  extension: "1001"
  secret: s3cret
softphone:
  connect_delay: 200ms
  ring_delay: 1s
  teardown_delay: 100ms
  refresh_interval: 1s
roster:
  source: ami
ami:
  host: 192.168.1.200
  port: 5038
  username: admin
  secret: s3cret
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  client_id: test
  topic_prefix: pbx
backend:
  url: http://localhost:3001/api
  email: agent@cloudconnect.com
  password: password
http:
  listen: 127.0.0.1:9090
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WSS", cfg.SIP.Protocol, "protocol is normalized")
	assert.Equal(t, "1001", cfg.SIP.Extension)
	assert.Equal(t, 200*time.Millisecond, cfg.Softphone.ConnectDelay)
	assert.Equal(t, time.Second, cfg.Softphone.RingDelay)
	assert.Equal(t, RosterAMI, cfg.Roster.Source)
	assert.Equal(t, "192.168.1.200:5038", cfg.AMI.Addr())
	assert.Equal(t, 5*time.Second, cfg.AMI.ReconnectDelay, "default kept")
	assert.Equal(t, "pbx", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Listen)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, RosterSimulator, cfg.Roster.Source)
	assert.Equal(t, 5, cfg.Roster.Simulator.MaxCalls)
	assert.Equal(t, 2500*time.Millisecond, cfg.Softphone.RingDelay)
	assert.Equal(t, 2*time.Second, cfg.Softphone.RefreshInterval)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "sip: [unclosed"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad protocol",
			content: "sip:\n  protocol: SCTP\n",
			wantErr: "sip.protocol",
		},
		{
			name:    "extension without server",
			content: "sip:\n  extension: \"1001\"\n",
			wantErr: "sip.server is required",
		},
		{
			name:    "negative delay",
			content: "softphone:\n  ring_delay: -1s\n",
			wantErr: "must not be negative",
		},
		{
			name:    "zero refresh",
			content: "softphone:\n  refresh_interval: 0s\n",
			wantErr: "refresh_interval",
		},
		{
			name:    "unknown roster source",
			content: "roster:\n  source: carrier-pigeon\n",
			wantErr: "roster.source",
		},
		{
			name:    "bad probability",
			content: "roster:\n  simulator:\n    start_probability: 1.5\n",
			wantErr: "probabilities",
		},
		{
			name:    "ami without credentials",
			content: "roster:\n  source: ami\n",
			wantErr: "ami.username is required",
		},
		{
			name:    "ami bad port",
			content: "roster:\n  source: ami\nami:\n  port: 70000\n  username: a\n  secret: b\n",
			wantErr: "ami.port",
		},
		{
			name:    "mqtt enabled without prefix",
			content: "mqtt:\n  enabled: true\n  topic_prefix: \"\"\n",
			wantErr: "mqtt.topic_prefix",
		},
		{
			name:    "mqtt bad qos",
			content: "mqtt:\n  enabled: true\n  qos: 3\n",
			wantErr: "mqtt.qos",
		},
		{
			name:    "empty listen",
			content: "http:\n  listen: \"\"\n",
			wantErr: "http.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMQTTDisabledSkipsValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "mqtt:\n  broker: \"\"\n"))
	assert.NoError(t, err)
}
