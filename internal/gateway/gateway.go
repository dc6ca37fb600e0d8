package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
	"github.com/nerrad567/sensorgw/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorgw/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorgw/internal/reading"
	"github.com/nerrad567/sensorgw/internal/xbee"
)

// Gateway operation constants.
const (
	// publishTimeout bounds a single publish, including one reconnect.
	publishTimeout = 15 * time.Second

	// journalTimeout bounds a single journal insert.
	journalTimeout = 5 * time.Second

	// logQueueSize bounds log lines waiting for the broker.
	logQueueSize = 128

	// droppedQueueSize bounds dropped frames waiting for the journal.
	droppedQueueSize = 32

	// Measurement for the periodic counter report.
	measurementGateway = "gateway"
)

// Broker is the upstream connection the gateway drives.
// It is satisfied by *mqtt.Client.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(ctx context.Context, subs ...mqtt.Subscription) error
	Unsubscribe(ctx context.Context) error
	Publish(ctx context.Context, r reading.Reading) error
	IsConnected() bool
}

// brokerStats is implemented by brokers that count their traffic.
type brokerStats interface {
	Stats() mqtt.ClientStats
}

// Journal persists checksum-failed frames.
// It is satisfied by *diagnostics.Journal.
type Journal interface {
	RecordDroppedFrame(ctx context.Context, raw []byte, at time.Time) error
}

// Telemetry records readings and counters as time series.
// It is satisfied by *influxdb.Client. Writes must not block.
type Telemetry interface {
	WriteTemperature(r reading.Reading)
	WriteDroppedFrame(raw []byte, at time.Time)
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// telemetryStats is implemented by telemetry writers that count their points.
type telemetryStats interface {
	Stats() influxdb.ClientStats
}

// SerialStats reports serial read loop counters.
// It is satisfied by *xbee.Device.
type SerialStats interface {
	Stats() xbee.DeviceStats
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a gateway.
type Options struct {
	// Config is the loaded gateway configuration.
	Config *config.Config

	// Broker is the upstream MQTT connection.
	Broker Broker

	// Journal is optional; without it dropped frames are only logged.
	Journal Journal

	// Telemetry is optional; without it nothing is written to InfluxDB.
	Telemetry Telemetry

	// Serial is optional; it supplies serial counters for Stats.
	Serial SerialStats

	// Logger is optional structured logger.
	Logger Logger
}

// Stats holds pipeline counters.
type Stats struct {
	Readings        uint64 // Temperature readings produced
	Published       uint64 // Readings accepted by the broker
	PublishFailures uint64 // Readings the broker failed to take
	QueueDrops      uint64 // Readings dropped on a full queue
	FramesDropped   uint64 // Checksum-failed frames reported
	JournalFailures uint64 // Dropped frames the journal failed to store
	LogDrops        uint64 // Log lines not forwarded to the broker

	Serial xbee.DeviceStats
	Broker mqtt.ClientStats
}

// droppedFrame is a checksum-failed frame waiting for the journal.
type droppedFrame struct {
	raw []byte
	at  time.Time
}

// Gateway forwards sensor readings from the radio to the broker.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	cfg       *config.Config
	broker    Broker
	journal   Journal
	telemetry Telemetry
	subs      []mqtt.Subscription

	serial   SerialStats
	serialMu sync.RWMutex

	readings chan reading.Reading
	logs     chan reading.Reading
	dropped  chan droppedFrame

	// upstreamMu serialises StartUpstream, StopUpstream and ToggleUpstream.
	upstreamMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context    // Gateway-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	readingCount    atomic.Uint64
	published       atomic.Uint64
	publishFailures atomic.Uint64
	queueDrops      atomic.Uint64
	framesDropped   atomic.Uint64
	journalFailures atomic.Uint64
	logDrops        atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a gateway. Call Start to begin forwarding.
func New(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	queueSize := opts.Config.Gateway.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Gateway{
		cfg:       opts.Config,
		broker:    opts.Broker,
		journal:   opts.Journal,   // May be nil (optional)
		telemetry: opts.Telemetry, // May be nil (optional)
		serial:    opts.Serial,    // May be nil (optional)
		subs:      startupSubscriptions(opts.Config.MQTT),
		readings:  make(chan reading.Reading, queueSize),
		logs:      make(chan reading.Reading, logQueueSize),
		dropped:   make(chan droppedFrame, droppedQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}, nil
}

// Start launches the worker goroutines and, when auto_start is set,
// brings the upstream link up. Calling Start again only retries the
// upstream link.
func (g *Gateway) Start(ctx context.Context) error {
	g.startOnce.Do(func() {
		g.wg.Add(2)
		go g.publishLoop()
		go g.journalLoop()

		if interval := g.cfg.Gateway.GetStatsInterval(); interval > 0 && g.telemetry != nil {
			g.wg.Add(1)
			go g.statsLoop(interval)
		}
	})

	if g.cfg.Gateway.AutoStart {
		if err := g.StartUpstream(ctx); err != nil {
			return err
		}
	}

	g.logInfo("gateway started",
		"name", g.cfg.Gateway.Name,
		"auto_start", g.cfg.Gateway.AutoStart,
		"queue_size", cap(g.readings))
	return nil
}

// Stop shuts the workers down and takes the upstream link down.
// Queued readings that were not yet published are discarded.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)

		// Abort in-flight publishes and journal writes
		g.ctxCancel()
		g.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		g.upstreamMu.Lock()
		g.stopUpstream(ctx)
		g.upstreamMu.Unlock()

		g.logInfo("gateway stopped")
	})
}

// HandleFrame turns a decoded frame into a reading and queues it.
// It never blocks; it is meant to be the serial device's frame callback.
func (g *Gateway) HandleFrame(frame xbee.Frame) {
	sample, ok := frame.(*xbee.IOSampleFrame)
	if !ok || len(sample.AnalogSamples) == 0 {
		g.logDebug("frame ignored", "type", frame.Type().String())
		return
	}

	r := reading.NewTemperature(sample.AnalogSamples[0], sample.SourceAddress)
	g.readingCount.Add(1)

	g.logInfo("temperature",
		"celsius", r.Value,
		"sample", r.Raw,
		"source", fmt.Sprintf("0x%04X", r.Source),
		"rssi", sample.RSSI)

	if g.telemetry != nil {
		g.telemetry.WriteTemperature(r)
	}

	select {
	case g.readings <- r:
	default:
		g.queueDrops.Add(1)
		g.logWarn("reading dropped", "error", ErrQueueFull, "celsius", r.Value)
	}
}

// HandleDropped reports a checksum-failed frame.
// It never blocks; it is meant to be the serial device's dropped callback.
func (g *Gateway) HandleDropped(raw []byte) {
	at := time.Now()
	g.framesDropped.Add(1)
	g.logError("dropped frame", "bytes", fmt.Sprintf("% X", raw), "length", len(raw))

	if g.telemetry != nil {
		g.telemetry.WriteDroppedFrame(raw, at)
	}

	if g.journal == nil {
		return
	}
	select {
	case g.dropped <- droppedFrame{raw: raw, at: at}:
	default:
		g.journalFailures.Add(1)
		g.logWarn("dropped frame not journaled, queue full")
	}
}

// HandleBytes logs every raw chunk read from the serial port.
func (g *Gateway) HandleBytes(raw []byte) {
	g.logDebug("bytes read", "bytes", fmt.Sprintf("% X", raw), "length", len(raw))
}

// HandleMessage logs an inbound broker message.
// It is meant to be the broker client's message handler.
func (g *Gateway) HandleMessage(topic string, payload []byte) error {
	g.logInfo("message received", "topic", topic, "payload", string(payload))
	return nil
}

// Stats returns a snapshot of the pipeline counters.
func (g *Gateway) Stats() Stats {
	s := Stats{
		Readings:        g.readingCount.Load(),
		Published:       g.published.Load(),
		PublishFailures: g.publishFailures.Load(),
		QueueDrops:      g.queueDrops.Load(),
		FramesDropped:   g.framesDropped.Load(),
		JournalFailures: g.journalFailures.Load(),
		LogDrops:        g.logDrops.Load(),
	}
	g.serialMu.RLock()
	serial := g.serial
	g.serialMu.RUnlock()

	if serial != nil {
		s.Serial = serial.Stats()
	}
	if bs, ok := g.broker.(brokerStats); ok {
		s.Broker = bs.Stats()
	}
	return s
}

// publishLoop drains the reading and log queues into the broker.
func (g *Gateway) publishLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done:
			return
		case r := <-g.readings:
			g.publishReading(r)
		case r := <-g.logs:
			g.publishLog(r)
		}
	}
}

func (g *Gateway) publishReading(r reading.Reading) {
	ctx, cancel := context.WithTimeout(g.ctx, publishTimeout)
	defer cancel()

	if err := g.broker.Publish(ctx, r); err != nil {
		g.publishFailures.Add(1)
		if errors.Is(err, mqtt.ErrNotConnected) {
			g.logDebug("reading not published, upstream down", "celsius", r.Value)
			return
		}
		g.logWarn("reading not published", "error", err, "celsius", r.Value)
		return
	}
	g.published.Add(1)
}

// publishLog forwards one log line. Failures are counted, never logged:
// logging them would feed the same sink.
func (g *Gateway) publishLog(r reading.Reading) {
	if !g.broker.IsConnected() {
		g.logDrops.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, publishTimeout)
	defer cancel()

	if err := g.broker.Publish(ctx, r); err != nil {
		g.logDrops.Add(1)
	}
}

// journalLoop writes dropped frames to the journal.
func (g *Gateway) journalLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done:
			return
		case f := <-g.dropped:
			ctx, cancel := context.WithTimeout(g.ctx, journalTimeout)
			err := g.journal.RecordDroppedFrame(ctx, f.raw, f.at)
			cancel()
			if err != nil {
				g.journalFailures.Add(1)
				g.logWarn("failed to journal dropped frame", "error", err)
			}
		}
	}
}

// statsLoop writes the pipeline counters to telemetry every interval.
func (g *Gateway) statsLoop(interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.writeStats()
		}
	}
}

func (g *Gateway) writeStats() {
	s := g.Stats()
	fields := map[string]interface{}{
		"readings":         int64(s.Readings),          //nolint:gosec // counters stay far below MaxInt64
		"published":        int64(s.Published),         //nolint:gosec
		"publish_failures": int64(s.PublishFailures),   //nolint:gosec
		"queue_drops":      int64(s.QueueDrops),        //nolint:gosec
		"frames_dropped":   int64(s.FramesDropped),     //nolint:gosec
		"journal_failures": int64(s.JournalFailures),   //nolint:gosec
		"bytes_read":       int64(s.Serial.BytesRead),  //nolint:gosec
		"reconnects":       int64(s.Broker.Reconnects), //nolint:gosec
		"upstream":         g.broker.IsConnected(),
	}
	if ts, ok := g.telemetry.(telemetryStats); ok {
		fields["telemetry_write_errors"] = int64(ts.Stats().WriteErrors) //nolint:gosec
	}
	g.telemetry.WritePoint(measurementGateway, map[string]string{"name": g.cfg.Gateway.Name}, fields)
}

// SetSerial sets the source of serial counters reported by Stats.
func (g *Gateway) SetSerial(serial SerialStats) {
	g.serialMu.Lock()
	g.serial = serial
	g.serialMu.Unlock()
}

// SetLogger sets the logger for this gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Gateway) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (g *Gateway) logError(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
