// Package logging builds the structured logger shared by every component.
//
// Entries are JSON by default and plain key=value text when format is
// "text". Each one carries service and version fields; components add their
// own with Component:
//
//	log := logging.New(cfg.Logging, version)
//	q, err := queue.Open(cfg.Pipeline.QueuePath, log.Component("queue"))
//	log.Warn("write failed, queued", "entity_id", id, "error", err)
//
// Configuration:
//
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "json"    # json, text
//	  output: "stdout"  # stdout, stderr
//
// Attributes named token, password or authorization are replaced with
// "[REDACTED]" before they are written.
package logging
