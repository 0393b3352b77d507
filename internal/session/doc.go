// Package session owns live session records and the channel subscriber index.
//
// The Registry is the only authoritative copy of session state; every other
// component holds session ids, never records. The Reaper evicts sessions that
// go quiet for longer than the configured threshold.
package session
