// Package proxy forwards requests to upstream services.
//
// Each route owns one Upstream, a reverse proxy bound to a single
// backend base URL. Hop-by-hop headers are stripped, X-Forwarded-*
// headers are set, and upstream failures are translated to 502 or 504
// responses. Responses produced by a reachable upstream are passed
// through unmodified, whatever their status code.
package proxy
