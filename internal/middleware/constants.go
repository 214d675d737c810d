package middleware

// unknownRoute is the fallback label value used when the route name
// is not available in the request context.
const unknownRoute = "unknown"

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderOrigin is the Origin header name.
	HeaderOrigin = "Origin"

	// HeaderXCorrelationID is the X-Correlation-ID header name.
	HeaderXCorrelationID = "X-Correlation-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderXForwardedProto is the X-Forwarded-Proto header name.
	HeaderXForwardedProto = "X-Forwarded-Proto"

	// HeaderXRateLimitLimit reports the quota for the identifier.
	HeaderXRateLimitLimit = "X-RateLimit-Limit"

	// HeaderXRateLimitRemaining reports the remaining quota.
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderXRateLimitReset reports seconds until the quota resets.
	HeaderXRateLimitReset = "X-RateLimit-Reset"

	// HeaderXCache reports whether the response came from cache.
	HeaderXCache = "X-Cache"

	// HeaderXClientRole carries the client role resolved by an edge
	// authenticator in front of the gateway.
	HeaderXClientRole = "X-Client-Role"

	// HeaderXClientSubject carries the authenticated subject resolved
	// by an edge authenticator in front of the gateway.
	HeaderXClientSubject = "X-Client-Subject"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// Error response constants.
const (
	// ErrRateLimitExceeded is the error message for rate limit exceeded.
	ErrRateLimitExceeded = `{"error":"rate limit exceeded"}`

	// ErrInternalServerError is the error message for internal server error.
	ErrInternalServerError = `{"error":"internal server error"}`
)
