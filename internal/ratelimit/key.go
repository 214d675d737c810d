package ratelimit

import (
	"strings"
)

// Identifier kinds used when building rate limit keys.
const (
	// IdentifierKindIP marks identifiers derived from the client IP.
	IdentifierKindIP = "ip"

	// IdentifierKindUser marks identifiers derived from an authenticated subject.
	IdentifierKindUser = "user"
)

// Key builds the counter key for a scope and identifier. The store applies
// the "ratelimit:" namespace prefix, so the full key becomes
// ratelimit:<scope>:<identifier>.
func Key(scope, identifier string) string {
	return scope + ":" + identifier
}

// IPIdentifier builds an identifier for an unauthenticated client.
func IPIdentifier(addr string) string {
	return IdentifierKindIP + ":" + addr
}

// UserIdentifier builds an identifier for an authenticated subject.
func UserIdentifier(subject string) string {
	return IdentifierKindUser + ":" + subject
}

// IdentifierKind returns the kind component of an identifier, or an empty
// string when the identifier has no kind prefix.
func IdentifierKind(identifier string) string {
	idx := strings.IndexByte(identifier, ':')
	if idx < 0 {
		return ""
	}
	return identifier[:idx]
}
