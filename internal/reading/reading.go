// Package reading holds the application-level values derived from decoded
// sensor frames and handed to the broker for publishing.
package reading

import (
	"fmt"
	"strconv"
	"time"
)

// Analog front end of the temperature probe.
const (
	// adcFullScale is the maximum 10-bit ADC count.
	adcFullScale = 1023.0

	// referenceVolts is the ADC reference voltage.
	referenceVolts = 3.3

	// offsetVolts is the probe output at 0 degrees Celsius.
	offsetVolts = 0.5

	// degreesPerVolt is the probe scale factor (10 mV per degree).
	degreesPerVolt = 100.0
)

// ToCelsius converts a raw analog sample word to degrees Celsius.
func ToCelsius(raw uint16) float64 {
	return ((float64(raw) / adcFullScale * referenceVolts) - offsetVolts) * degreesPerVolt
}

// EventKind identifies what a Reading carries and selects its topic.
type EventKind int

const (
	// Unknown is the zero value; it has no topic and is never published.
	Unknown EventKind = iota

	// Temperature carries a numeric value in degrees Celsius.
	Temperature

	// LogMessage carries a formatted log line.
	LogMessage
)

func (k EventKind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case LogMessage:
		return "log"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Reading is an immutable (event kind, payload) pair.
type Reading struct {
	Kind  EventKind
	Value float64
	Text  string

	// Raw is the analog sample the value was converted from, when known.
	Raw uint16

	// Source is the radio address of the sending node, when known.
	Source uint16

	Time time.Time
}

// NewTemperature returns a temperature reading converted from a raw sample.
func NewTemperature(raw, source uint16) Reading {
	return Reading{
		Kind:   Temperature,
		Value:  ToCelsius(raw),
		Raw:    raw,
		Source: source,
		Time:   time.Now(),
	}
}

// NewLogMessage returns a reading carrying one log line.
func NewLogMessage(text string) Reading {
	return Reading{Kind: LogMessage, Text: text, Time: time.Now()}
}

// Payload serialises the reading to its wire text.
//
// Numeric values use the shortest representation that round-trips, so the
// published value is exactly the converted value.
func (r Reading) Payload() string {
	switch r.Kind {
	case Temperature:
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	default:
		return r.Text
	}
}
