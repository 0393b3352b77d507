// Package server is the HTTP/WebSocket transport adapter: connection
// admission, the upgrade handshake, per-connection read/write pumps, and the
// observability endpoints. It never touches session state directly.
package server
