// Package shutdown runs the pipeline loops and ends the process cleanly.
//
// The Coordinator starts every registered loop under panic recovery. It
// stops them all when the parent context is cancelled (a termination
// signal) or when any loop fails, panics, or a fault is reported from
// outside, for example by an MQTT handler. It then runs the stop hooks,
// performs one bounded drain of the failure queue and reports the exit
// code: 0 after a requested shutdown, 1 after a fault.
//
// The drain is a single pass. If the store is still unreachable, the
// queue stays on disk for the next start.
package shutdown
