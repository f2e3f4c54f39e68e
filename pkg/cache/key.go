package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "rowstream:doc"

// Key identifies a cached document by its URL.
type Key struct {
	// Host is the upstream host, lower-cased
	Host string

	// Path is the document path
	Path string

	// Query holds the query parameters
	Query url.Values
}

// KeyFor builds the key of the document at u.
func KeyFor(u *url.URL) Key {
	return Key{
		Host:  strings.ToLower(u.Host),
		Path:  u.Path,
		Query: u.Query(),
	}
}

// String returns the Redis key.
// Format: rowstream:doc:host/path:q1=v1:q2=v2, query parameters sorted.
//
// Example:
//
//	rowstream:doc:letterboxd.com/alice/list/best-films:page=2
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteString(KeyPrefix)
	sb.WriteByte(':')
	sb.WriteString(k.Host)

	if path := strings.Trim(k.Path, "/"); path != "" {
		sb.WriteByte('/')
		sb.WriteString(path)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			sb.WriteByte(':')
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(strings.Join(k.Query[name], ","))
		}
	}

	return sb.String()
}
