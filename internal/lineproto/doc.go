// Package lineproto encodes pipeline records as InfluxDB line protocol.
//
// Every record carries exactly one float field named "value" and a
// "trigger" tag recording why it was produced:
//
//	living_temperature,room=living,trigger=change value=21.5 1718000000000000000
//
// Both InfluxDB (v2 write API) and VictoriaMetrics (/write) accept this
// format, so the same encoded lines are submitted to either backend.
//
// Encoding is total over well-formed input. Callers reject non-finite
// values before encoding.
package lineproto
