package strutils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
)

// RequestKey builds a deduplication key like "GET /projects?page=1&pageSize=20".
//
// Query parameters are sorted by name and by value so that requests that only
// differ in parameter order share a key. Empty values are kept since "?q=" and
// "" can mean different things to the upstream.
func RequestKey(method string, path string, query url.Values) string {
	var key strings.Builder
	key.WriteString(strings.ToUpper(method))
	key.WriteByte(' ')
	key.WriteString(path)

	if len(query) == 0 {
		return key.String()
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	slices.Sort(names)

	separator := byte('?')
	for _, name := range names {
		values := slices.Clone(query[name])
		slices.Sort(values)
		for _, value := range values {
			key.WriteByte(separator)
			separator = '&'
			key.WriteString(url.QueryEscape(name))
			key.WriteByte('=')
			key.WriteString(url.QueryEscape(value))
		}
	}

	return key.String()
}

// HashSecret returns a short stable digest of a credential so it can be part
// of a key without ending up in logs
func HashSecret(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
