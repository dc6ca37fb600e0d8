package mqtt

import (
	"testing"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/reading"
)

func TestNewTopics(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.MQTTConfig
		wantRoot    string
		wantSensors string
		wantLog     string
	}{
		{
			name:        "username root",
			cfg:         config.MQTTConfig{Auth: config.MQTTAuthConfig{Username: "alice"}},
			wantRoot:    "users/alice",
			wantSensors: "users/alice/sensors",
			wantLog:     "users/alice/log",
		},
		{
			name:        "anonymous",
			cfg:         config.MQTTConfig{},
			wantRoot:    "sensorgw",
			wantSensors: "sensorgw/sensors",
			wantLog:     "sensorgw/log",
		},
		{
			name: "explicit root",
			cfg: config.MQTTConfig{
				Auth:   config.MQTTAuthConfig{Username: "alice"},
				Topics: config.MQTTTopicsConfig{Root: "site/lab"},
			},
			wantRoot:    "site/lab",
			wantSensors: "site/lab/sensors",
			wantLog:     "site/lab/log",
		},
		{
			name: "explicit leaf topics",
			cfg: config.MQTTConfig{
				Auth:   config.MQTTAuthConfig{Username: "alice"},
				Topics: config.MQTTTopicsConfig{Sensors: "temps", Log: "syslog/gw"},
			},
			wantRoot:    "users/alice",
			wantSensors: "temps",
			wantLog:     "syslog/gw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics := NewTopics(tt.cfg)
			if got := topics.Root(); got != tt.wantRoot {
				t.Errorf("Root() = %q, want %q", got, tt.wantRoot)
			}
			if got := topics.Sensors(); got != tt.wantSensors {
				t.Errorf("Sensors() = %q, want %q", got, tt.wantSensors)
			}
			if got := topics.Log(); got != tt.wantLog {
				t.Errorf("Log() = %q, want %q", got, tt.wantLog)
			}
		})
	}
}

func TestTopicFor(t *testing.T) {
	cfg := config.MQTTConfig{Auth: config.MQTTAuthConfig{Username: "bob"}}

	tests := []struct {
		kind reading.EventKind
		want string
	}{
		{reading.Temperature, "users/bob/sensors"},
		{reading.LogMessage, "users/bob/log"},
		{reading.Unknown, ""},
		{reading.EventKind(99), ""},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := TopicFor(tt.kind, cfg); got != tt.want {
				t.Errorf("TopicFor(%v) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}
