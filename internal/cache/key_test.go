package cache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "GET:/api/orders", RequestKey("GET", "/api/orders", nil))

	// Parameter order must not change the key
	q1 := url.Values{"b": {"2"}, "a": {"1"}}
	q2 := url.Values{"a": {"1"}, "b": {"2"}}
	assert.Equal(t,
		RequestKey("GET", "/api/orders", q1),
		RequestKey("GET", "/api/orders", q2),
	)
	assert.Equal(t, "GET:/api/orders:q:a=1&b=2", RequestKey("GET", "/api/orders", q1))
}

func TestHashKey(t *testing.T) {
	h := HashKey("some-key")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("some-key"))
	assert.NotEqual(t, h, HashKey("other-key"))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "a_b", SanitizeKey("a b"))
	assert.Equal(t, "ab", SanitizeKey("a\nb"))
	assert.Equal(t, "ab", SanitizeKey("a\r\tb"))
}
