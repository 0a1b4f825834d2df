// Package influxdb provides the InfluxDB write backend for the ingestion pipeline.
//
// It wraps the official influxdb-client-go v2 library. InfluxDB 3 serves
// the v2 write endpoint, so the same client writes to both generations.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8181",
//	    Token:   "your-token",
//	    Bucket:  "home",
//	}
//
//	client, err := influxdb.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Submit(ctx, []string{"temperature,trigger=change value=21.5 1718000000000000000"})
//
// # Error Handling
//
// Submit is synchronous: any failure (network, auth, server rejection,
// timeout) is returned and wraps ErrWriteFailed. The caller decides
// whether to queue the records.
package influxdb
