package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// RequestKey builds the cache key for a request: the path, plus the
// query string with parameters sorted by name so that equivalent URLs
// share an entry regardless of parameter order.
func RequestKey(r *http.Request) string {
	key := r.URL.Path

	query := r.URL.Query()
	if len(query) == 0 {
		return key
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(key)
	sb.WriteByte('?')
	first := true
	for _, name := range names {
		values := query[name]
		sort.Strings(values)
		for _, value := range values {
			if !first {
				sb.WriteByte('&')
			}
			first = false
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// HashKey returns a fixed-length digest of a cache key, for backends
// with key length limits.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
