package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sensorgw/internal/reading"
)

// Measurement names.
const (
	MeasurementTemperature   = "temperature"
	MeasurementDroppedFrames = "dropped_frames"
)

// WriteTemperature records a temperature reading.
//
// The point is tagged with the sending node's address and carries the
// converted value and the raw sample. Readings of other kinds are ignored.
//
// Example:
//
//	client.WriteTemperature(reading.NewTemperature(512, 0x1234))
//	// temperature,source=0x1234 celsius=115.16...,sample=512i
func (c *Client) WriteTemperature(r reading.Reading) {
	if r.Kind != reading.Temperature || !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementTemperature,
		map[string]string{
			"source": SourceTag(r.Source),
		},
		map[string]interface{}{
			"celsius": r.Value,
			"sample":  int64(r.Raw),
		},
		pointTime(r.Time),
	)

	c.write(point)
}

// WriteDroppedFrame records a frame that failed checksum validation.
//
// The hex dump is kept as a field so a burst of line noise does not
// create new series.
func (c *Client) WriteDroppedFrame(raw []byte, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementDroppedFrames,
		map[string]string{
			"reason": "checksum",
		},
		map[string]interface{}{
			"length": int64(len(raw)),
			"bytes":  fmt.Sprintf("% X", raw),
		},
		pointTime(at),
	)

	c.write(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Used for periodic gateway counters that don't fit the helper methods.
//
// Example:
//
//	client.WritePoint("gateway",
//	    map[string]string{"gateway": "sensorgw"},
//	    map[string]interface{}{"frames_valid": 120, "publishes": 118})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(point *write.Point) {
	c.points.Add(1)
	c.writeAPI.WritePoint(point)
}

// SourceTag formats a 16-bit node address the way it appears in tags.
func SourceTag(source uint16) string {
	return fmt.Sprintf("0x%04X", source)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
