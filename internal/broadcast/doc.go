// Package broadcast implements the asynchronous fan-out pipeline between the
// message protocol and the transport sink.
package broadcast
