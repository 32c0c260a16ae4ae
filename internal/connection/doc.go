// Package connection implements the client side of the live channel.
//
// A Conn keeps one authenticated WebSocket session to the server:
//   - Authenticates every new socket before any application traffic
//   - Correlates requests with replies by request id
//   - Multiplexes pool subscriptions over the single socket
//   - Buffers outbound messages while not authenticated
//   - Reconnects with linear backoff and restores subscriptions and
//     in-flight requests on the new socket
//
// Every callback (subscribers, type handlers, status watchers and hooks)
// runs on the Conn's event loop, one at a time.
package connection
