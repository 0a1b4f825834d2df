// Package config loads the service configuration.
//
// Values are resolved in three layers, later ones winning: built-in
// defaults, the YAML file, then IOBINFLUX_* environment variables. The
// result is validated as a whole and every problem is reported at once.
//
// Entity validation rejects duplicate ids and measurements, negative
// min_delta and the reserved tag key "trigger". Pipeline validation requires
// positive intervals, a ceiling at or above the base flush interval, and a
// sink backend that is both known and enabled.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	interval := cfg.Pipeline.FlushIntervalDuration()
//
// Put the sink token and MQTT password in IOBINFLUX_INFLUXDB_TOKEN and
// IOBINFLUX_MQTT_PASSWORD rather than the file.
package config
