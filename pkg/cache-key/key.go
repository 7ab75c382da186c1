package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
)

// CacheKeyer derives cache keys from requests.
// The key is the hex md5 digest (128 bits) of the request path and query
// exactly as received. Two different URIs hashing to the same key is an
// accepted risk: the later write simply replaces the earlier entry.
type CacheKeyer struct{}

func NewCacheKeyer() CacheKeyer {
	return CacheKeyer{}
}

// GetKey returns the cache key for a request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.KeyForURI(RequestURI(r))
}

// KeyForURI returns the cache key for a raw path and query.
func (c CacheKeyer) KeyForURI(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// RequestURI returns the unmodified path and query of the request line.
// Requests built in code (tests, internal fetches) have no raw request line,
// in which case the URL is re-encoded.
func RequestURI(r *http.Request) string {
	if r.RequestURI != "" && !strings.Contains(r.RequestURI, "://") {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
