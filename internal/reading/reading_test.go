package reading

import (
	"math"
	"strconv"
	"testing"
)

func TestToCelsius(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		want float64
	}{
		{name: "zero", raw: 0, want: -50},
		{name: "full scale", raw: 1023, want: 280},
		{name: "mid scale", raw: 512, want: ((512 / 1023.0 * 3.3) - 0.5) * 100},
		{name: "freezing point", raw: 155, want: ((155 / 1023.0 * 3.3) - 0.5) * 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToCelsius(tt.raw)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ToCelsius(%d) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestToCelsius_MidScaleValue(t *testing.T) {
	got := ToCelsius(512)
	if got < 115.15 || got > 115.17 {
		t.Errorf("ToCelsius(512) = %v, want ~115.16", got)
	}
}

func TestReading_Payload(t *testing.T) {
	temp := NewTemperature(512, 0x1234)
	if temp.Kind != Temperature {
		t.Errorf("Kind = %v, want temperature", temp.Kind)
	}
	if temp.Raw != 512 || temp.Source != 0x1234 {
		t.Errorf("Raw, Source = %d, %#x; want 512, 0x1234", temp.Raw, temp.Source)
	}

	got, err := strconv.ParseFloat(temp.Payload(), 64)
	if err != nil {
		t.Fatalf("Payload() = %q is not a number: %v", temp.Payload(), err)
	}
	if got != ToCelsius(512) {
		t.Errorf("Payload() parses to %v, want %v", got, ToCelsius(512))
	}

	msg := NewLogMessage("serial buffer overflow")
	if msg.Payload() != "serial buffer overflow" {
		t.Errorf("Payload() = %q, want the log line", msg.Payload())
	}

	if (Reading{Kind: Temperature, Value: -12.5}).Payload() != "-12.5" {
		t.Errorf("Payload() = %q, want -12.5", (Reading{Kind: Temperature, Value: -12.5}).Payload())
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{Temperature, "temperature"},
		{LogMessage, "log"},
		{Unknown, "EventKind(0)"},
		{EventKind(9), "EventKind(9)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
