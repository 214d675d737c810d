// Package health provides liveness and readiness probe endpoints.
//
// Liveness reports whether the process is running. Readiness runs the
// registered dependency checks, including the shared counter store
// ping, and returns 503 when any check fails.
package health
