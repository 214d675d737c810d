// Package security provides the response security-header middleware:
// X-Frame-Options, X-Content-Type-Options, X-XSS-Protection,
// Referrer-Policy and HSTS, plus custom header injection and removal.
package security
