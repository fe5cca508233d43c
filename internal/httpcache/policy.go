package httpcache

import (
	"strconv"
	"strings"
	"time"
)

// CachePolicy captures the RFC 7234 freshness and revalidation metadata for
// one cached response: how long it may be served without revalidation, and
// what to send back to the origin (If-None-Match / If-Modified-Since) once
// it goes stale.
type CachePolicy struct {
	ETag         string
	LastModified string
	NoStore      bool
	NoCache      bool
	MaxAge       time.Duration
	FetchedAt    time.Time
}

// PolicyFromHeaders derives a CachePolicy from a response's Cache-Control,
// ETag, and Last-Modified headers, observed at fetchedAt.
func PolicyFromHeaders(header func(string) string, fetchedAt time.Time) CachePolicy {
	p := CachePolicy{
		ETag:         header("ETag"),
		LastModified: header("Last-Modified"),
		FetchedAt:    fetchedAt,
	}

	for _, directive := range strings.Split(header("Cache-Control"), ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))

		switch {
		case directive == "no-store":
			p.NoStore = true
		case directive == "no-cache":
			p.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
				p.MaxAge = time.Duration(secs) * time.Second
			}
		}
	}

	return p
}

// Fresh reports whether the cached entry can be served without contacting
// the origin, as of now.
func (p CachePolicy) Fresh(now time.Time) bool {
	if p.NoStore || p.NoCache {
		return false
	}

	if p.MaxAge == 0 {
		return false
	}

	return now.Before(p.FetchedAt.Add(p.MaxAge))
}

// Revalidatable reports whether the entry carries enough metadata to issue
// a conditional GET instead of a full refetch.
func (p CachePolicy) Revalidatable() bool {
	return p.ETag != "" || p.LastModified != ""
}
