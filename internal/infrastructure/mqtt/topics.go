package mqtt

import (
	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/reading"
)

// Topic layout defaults.
const (
	// TopicPrefixUsers is the base of per-user topic roots.
	TopicPrefixUsers = "users"

	// TopicFallbackRoot is the root used when no username is configured.
	TopicFallbackRoot = "sensorgw"

	topicSensors = "sensors"
	topicLog     = "log"
)

// Topics provides builders for gateway MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics(cfg.MQTT)
//	topics.Sensors() // "users/alice/sensors"
type Topics struct {
	root    string
	sensors string
	log     string
}

// NewTopics resolves the topic layout from configuration.
//
// The root defaults to users/<username>; sensor readings go to
// <root>/sensors and log lines to <root>/log unless overridden.
func NewTopics(cfg config.MQTTConfig) Topics {
	root := cfg.Topics.Root
	if root == "" {
		root = TopicFallbackRoot
		if cfg.Auth.Username != "" {
			root = TopicPrefixUsers + "/" + cfg.Auth.Username
		}
	}

	t := Topics{
		root:    root,
		sensors: cfg.Topics.Sensors,
		log:     cfg.Topics.Log,
	}
	if t.sensors == "" {
		t.sensors = root + "/" + topicSensors
	}
	if t.log == "" {
		t.log = root + "/" + topicLog
	}
	return t
}

// Root returns the topic root.
//
// Example: users/alice
func (t Topics) Root() string { return t.root }

// Sensors returns the topic temperature readings are published to.
//
// Example: users/alice/sensors
func (t Topics) Sensors() string { return t.sensors }

// Log returns the topic log lines are published to.
//
// Example: users/alice/log
func (t Topics) Log() string { return t.log }

// TopicFor maps an event kind to its topic.
//
// Unknown kinds map to the empty string, which callers treat as
// "do not publish".
func TopicFor(kind reading.EventKind, cfg config.MQTTConfig) string {
	t := NewTopics(cfg)
	switch kind {
	case reading.Temperature:
		return t.Sensors()
	case reading.LogMessage:
		return t.Log()
	default:
		return ""
	}
}
