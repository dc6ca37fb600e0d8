// Package config loads the sensor gateway's YAML configuration.
//
// Load starts from built-in defaults, overlays the file, then applies
// SENSORGW_* environment variables before running Validate. Every section
// (serial, mqtt, gateway, logging, database, influxdb, discovery) has
// defaults, so a minimal file only needs the serial device and broker host.
//
// Credentials such as the broker password and the InfluxDB token are best
// supplied through SENSORGW_MQTT_PASSWORD and SENSORGW_INFLUXDB_TOKEN
// rather than written into the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.MQTT.GetKeepAlive()
package config
