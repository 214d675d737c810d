package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// RequestKey builds a cache key from an HTTP method, path, and query
// parameters. Query parameters are sorted so equivalent requests produce
// the same key regardless of parameter order.
func RequestKey(method, path string, query url.Values) string {
	parts := []string{method, path}

	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		var pairs []string
		for _, name := range names {
			for _, v := range query[name] {
				pairs = append(pairs, name+"="+v)
			}
		}
		parts = append(parts, "q:"+strings.Join(pairs, "&"))
	}

	return SanitizeKey(strings.Join(parts, ":"))
}

// HashKey hashes a key to a fixed length.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// SanitizeKey removes or replaces characters that might cause issues in cache keys.
func SanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"\n", "",
		"\r", "",
		"\t", "",
	)
	return replacer.Replace(key)
}
