package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorgw/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorgw/internal/reading"
	"github.com/nerrad567/sensorgw/internal/xbee"
)

const waitTimeout = 2 * time.Second

// fakeBroker records every call and publishes into a channel.
type fakeBroker struct {
	mu             sync.Mutex
	connected      bool
	connectErr     error
	subscribeErr   error
	unsubscribeErr error
	publishErr     error
	connects       int
	disconnects    int
	unsubscribes   int
	subs           []mqtt.Subscription

	published chan reading.Reading
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(chan reading.Reading, 32)}
}

func (b *fakeBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.connected = false
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, subs ...mqtt.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		// The client ends the session when the broker refuses a topic.
		if errors.Is(b.subscribeErr, mqtt.ErrSubscribeRejected) {
			b.connected = false
		}
		return b.subscribeErr
	}
	b.subs = append(b.subs, subs...)
	return nil
}

func (b *fakeBroker) Unsubscribe(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	if b.unsubscribeErr != nil {
		return b.unsubscribeErr
	}
	b.subs = nil
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, r reading.Reading) error {
	b.mu.Lock()
	err, connected := b.publishErr, b.connected
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if !connected {
		return mqtt.ErrNotConnected
	}
	b.published <- r
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Stats() mqtt.ClientStats {
	return mqtt.ClientStats{Reconnects: 3}
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

type journalEntry struct {
	raw []byte
	at  time.Time
}

type fakeJournal struct {
	err     error
	entries chan journalEntry
}

func (j *fakeJournal) RecordDroppedFrame(_ context.Context, raw []byte, at time.Time) error {
	j.entries <- journalEntry{raw: raw, at: at}
	return j.err
}

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

type fakeTelemetry struct {
	mu           sync.Mutex
	temperatures []reading.Reading
	dropped      [][]byte
	points       []point
}

func (f *fakeTelemetry) WriteTemperature(r reading.Reading) {
	f.mu.Lock()
	f.temperatures = append(f.temperatures, r)
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteDroppedFrame(raw []byte, _ time.Time) {
	f.mu.Lock()
	f.dropped = append(f.dropped, raw)
	f.mu.Unlock()
}

func (f *fakeTelemetry) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	f.mu.Lock()
	f.points = append(f.points, point{measurement, tags, fields})
	f.mu.Unlock()
}

func (f *fakeTelemetry) Stats() influxdb.ClientStats {
	return influxdb.ClientStats{Points: 7, WriteErrors: 2}
}

type fakeSerial struct{}

func (fakeSerial) Stats() xbee.DeviceStats {
	return xbee.DeviceStats{BytesRead: 42, FramesValid: 2}
}

// otherFrame is a frame type the gateway has no use for.
type otherFrame struct{}

func (otherFrame) Type() xbee.FrameType { return xbee.ModemStatus }

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Name:      "lab-gateway",
			QueueSize: 4,
			AutoStart: true,
		},
		MQTT: config.MQTTConfig{
			Auth:        config.MQTTAuthConfig{Username: "alice"},
			LogToBroker: true,
		},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config, opts Options) (*Gateway, *fakeBroker) {
	t.Helper()

	broker := newFakeBroker()
	opts.Config = cfg
	opts.Broker = broker

	g, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(g.Stop)
	return g, broker
}

func sampleFrame(raw, source uint16) *xbee.IOSampleFrame {
	return &xbee.IOSampleFrame{
		SourceAddress:  source,
		RSSI:           0x28,
		AnalogChannels: []int{0},
		AnalogSamples:  []uint16{raw},
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "valid", opts: Options{Config: testConfig(), Broker: newFakeBroker()}},
		{name: "missing config", opts: Options{Broker: newFakeBroker()}, wantErr: true},
		{name: "missing broker", opts: Options{Config: testConfig()}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if g != nil {
				g.Stop()
			}
		})
	}
}

func TestHandleFrame_PublishesReading(t *testing.T) {
	telemetry := &fakeTelemetry{}
	g, broker := newTestGateway(t, testConfig(), Options{Telemetry: telemetry})

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	g.HandleFrame(sampleFrame(512, 0x1234))

	got := receive(t, broker.published)
	if got.Kind != reading.Temperature {
		t.Errorf("Kind = %v, want %v", got.Kind, reading.Temperature)
	}
	if got.Value != reading.ToCelsius(512) {
		t.Errorf("Value = %v, want %v", got.Value, reading.ToCelsius(512))
	}
	if got.Raw != 512 || got.Source != 0x1234 {
		t.Errorf("Raw/Source = %d/0x%04X, want 512/0x1234", got.Raw, got.Source)
	}

	telemetry.mu.Lock()
	n := len(telemetry.temperatures)
	telemetry.mu.Unlock()
	if n != 1 {
		t.Errorf("telemetry temperatures = %d, want 1", n)
	}

	deadline := time.Now().Add(waitTimeout)
	for g.Stats().Published != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s := g.Stats(); s.Readings != 1 || s.Published != 1 {
		t.Errorf("Stats() = %+v, want 1 reading published", s)
	}
}

func TestHandleFrame_Ignored(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), Options{})

	g.HandleFrame(otherFrame{})
	g.HandleFrame(&xbee.IOSampleFrame{})

	if got := g.Stats().Readings; got != 0 {
		t.Errorf("Readings = %d, want 0", got)
	}
	if got := len(g.readings); got != 0 {
		t.Errorf("queued readings = %d, want 0", got)
	}
}

func TestHandleFrame_QueueFullDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.QueueSize = 1
	// Not started, so nothing drains the queue.
	g, _ := newTestGateway(t, cfg, Options{})

	for range 3 {
		g.HandleFrame(sampleFrame(300, 1))
	}

	s := g.Stats()
	if s.Readings != 3 {
		t.Errorf("Readings = %d, want 3", s.Readings)
	}
	if s.QueueDrops != 2 {
		t.Errorf("QueueDrops = %d, want 2", s.QueueDrops)
	}
}

func TestHandleFrame_PublishFailureCounted(t *testing.T) {
	g, broker := newTestGateway(t, testConfig(), Options{})
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	broker.mu.Lock()
	broker.publishErr = mqtt.ErrPublishFailed
	broker.mu.Unlock()

	g.HandleFrame(sampleFrame(400, 2))

	deadline := time.Now().Add(waitTimeout)
	for g.Stats().PublishFailures != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s := g.Stats(); s.PublishFailures != 1 || s.Published != 0 {
		t.Errorf("Stats() = %+v, want 1 publish failure", s)
	}
}

func TestHandleDropped(t *testing.T) {
	journal := &fakeJournal{entries: make(chan journalEntry, 4)}
	telemetry := &fakeTelemetry{}
	g, _ := newTestGateway(t, testConfig(), Options{Journal: journal, Telemetry: telemetry})

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	raw := []byte{0x7E, 0x00, 0x02, 0x83, 0x01, 0x00}
	g.HandleDropped(raw)

	entry := receive(t, journal.entries)
	if string(entry.raw) != string(raw) {
		t.Errorf("journaled % X, want % X", entry.raw, raw)
	}
	if entry.at.IsZero() {
		t.Error("journaled entry has no receive time")
	}

	telemetry.mu.Lock()
	n := len(telemetry.dropped)
	telemetry.mu.Unlock()
	if n != 1 {
		t.Errorf("telemetry dropped frames = %d, want 1", n)
	}
	if got := g.Stats().FramesDropped; got != 1 {
		t.Errorf("FramesDropped = %d, want 1", got)
	}
}

func TestHandleDropped_JournalFailureCounted(t *testing.T) {
	journal := &fakeJournal{err: errors.New("disk full"), entries: make(chan journalEntry, 4)}
	g, _ := newTestGateway(t, testConfig(), Options{Journal: journal})

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	g.HandleDropped([]byte{0x7E, 0x00})
	receive(t, journal.entries)

	deadline := time.Now().Add(waitTimeout)
	for g.Stats().JournalFailures != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := g.Stats().JournalFailures; got != 1 {
		t.Errorf("JournalFailures = %d, want 1", got)
	}
}

func TestStats_IncludesSerialAndBroker(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), Options{Serial: fakeSerial{}})

	s := g.Stats()
	if s.Serial.BytesRead != 42 {
		t.Errorf("Serial.BytesRead = %d, want 42", s.Serial.BytesRead)
	}
	if s.Broker.Reconnects != 3 {
		t.Errorf("Broker.Reconnects = %d, want 3", s.Broker.Reconnects)
	}
}

func TestWriteStats(t *testing.T) {
	telemetry := &fakeTelemetry{}
	g, broker := newTestGateway(t, testConfig(), Options{Telemetry: telemetry, Serial: fakeSerial{}})
	broker.setConnected(true)

	g.HandleFrame(sampleFrame(500, 1))
	g.writeStats()

	telemetry.mu.Lock()
	defer telemetry.mu.Unlock()
	if len(telemetry.points) != 1 {
		t.Fatalf("points = %d, want 1", len(telemetry.points))
	}
	p := telemetry.points[0]
	if p.measurement != measurementGateway {
		t.Errorf("measurement = %q, want %q", p.measurement, measurementGateway)
	}
	if p.tags["name"] != "lab-gateway" {
		t.Errorf("name tag = %q, want lab-gateway", p.tags["name"])
	}
	if p.fields["readings"] != int64(1) || p.fields["bytes_read"] != int64(42) || p.fields["upstream"] != true ||
		p.fields["telemetry_write_errors"] != int64(2) {
		t.Errorf("fields = %v", p.fields)
	}
}

func TestStop(t *testing.T) {
	g, broker := newTestGateway(t, testConfig(), Options{})
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	g.Stop()
	g.Stop()

	if broker.IsConnected() {
		t.Error("broker still connected after Stop()")
	}
	if err := g.StartUpstream(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("StartUpstream() after Stop() error = %v, want ErrStopped", err)
	}
}

func TestHandleMessage(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), Options{})
	if err := g.HandleMessage("users/alice/sensors", []byte("21.5")); err != nil {
		t.Errorf("HandleMessage() error = %v", err)
	}
}

func TestSetSerial(t *testing.T) {
	g, _ := newTestGateway(t, testConfig(), Options{})
	if got := g.Stats().Serial.BytesRead; got != 0 {
		t.Errorf("Serial.BytesRead = %d before SetSerial, want 0", got)
	}

	g.SetSerial(fakeSerial{})
	if got := g.Stats().Serial.BytesRead; got != 42 {
		t.Errorf("Serial.BytesRead = %d, want 42", got)
	}
}
