package gateway

import (
	"github.com/nerrad567/sensorgw/internal/infrastructure/logging"
	"github.com/nerrad567/sensorgw/internal/reading"
)

// LogSink returns a sink that forwards log lines to the broker log topic.
//
// Emit only queues the line; the publish loop sends it. Lines are dropped
// while the upstream link is down, when the queue is full, when log
// forwarding is disabled and after Stop.
func (g *Gateway) LogSink() logging.Sink {
	return logging.SinkFunc(g.emitLog)
}

func (g *Gateway) emitLog(text string) {
	if !g.cfg.MQTT.LogToBroker || !g.broker.IsConnected() {
		return
	}

	select {
	case <-g.done:
		return
	default:
	}

	select {
	case g.logs <- reading.NewLogMessage(text):
	default:
		g.logDrops.Add(1)
	}
}
