// Package tsdb provides the VictoriaMetrics write backend for the ingestion pipeline.
//
// VictoriaMetrics accepts InfluxDB line protocol on its /write endpoint,
// so the encoded records the pipeline produces are posted unchanged.
// Uses only net/http.
//
// # Usage
//
//	client, err := tsdb.New(config.TSDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8428",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Submit(ctx, lines)
//
// # Error Handling
//
// Submit is synchronous and returns every failure wrapped in
// ErrWriteFailed, including non-2xx responses.
package tsdb
