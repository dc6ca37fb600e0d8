// Package gateway wires the serial radio to the upstream broker.
//
// Decoded sample frames become temperature readings, which are logged,
// recorded as telemetry and queued for publishing. Checksum-failed frames
// are logged and written to the diagnostics journal. The gateway also owns
// the upstream link lifecycle (connect, subscribe, unsubscribe, disconnect)
// and a log sink that forwards log lines to the broker log topic.
//
// Nothing on the serial side blocks: readings and dropped frames are handed
// to worker goroutines through bounded queues, and are dropped (and
// counted) when a queue is full.
//
// Usage:
//
//	gw, err := gateway.New(gateway.Options{
//	    Config: cfg,
//	    Broker: mqttClient,
//	    Logger: log,
//	})
//	device.SetOnFrame(gw.HandleFrame)
//	device.SetOnDropped(gw.HandleDropped)
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop()
package gateway
