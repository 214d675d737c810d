// Package gateway assembles the HTTP gateway: the route table, the
// per-route rate-limit and cache middleware, the shared middleware
// chain, and the operational endpoints.
//
// Requests are matched against the route table by path prefix, with the
// longest matching prefix winning, and forwarded to the route's
// upstream. Role multipliers can be swapped at runtime through Reload
// without restarting the server.
package gateway
