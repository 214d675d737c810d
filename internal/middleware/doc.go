// Package middleware provides the HTTP middleware chain of the
// gateway: correlation IDs, structured request logging, panic
// recovery, CORS, distributed rate limiting with role-scaled quotas,
// and read-through response caching.
package middleware
