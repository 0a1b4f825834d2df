// Package metrics exports pipeline activity to Prometheus.
//
// Collector implements ingest.Observer. Counters and histograms are fed
// by write and flush events; queue length and the current flush interval
// are read on scrape.
package metrics
