package ssc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bedynamictech/Stupid-Simple-Cache/cache"
	"github.com/bedynamictech/Stupid-Simple-Cache/metrics"
	cachekey "github.com/bedynamictech/Stupid-Simple-Cache/pkg/cache-key"
	transformer "github.com/bedynamictech/Stupid-Simple-Cache/pkg/response-transformer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a stored page is served before it is regenerated.
	DefaultTTL = time.Hour
	// DefaultBrowserMaxAge is the max-age sent to browsers.
	DefaultBrowserMaxAge = 24 * time.Hour
)

// Modules switches the individual features on or off.
type Modules struct {
	Minify       bool `yaml:"minify"`
	StaticCache  bool `yaml:"staticCache"`
	LazyLoad     bool `yaml:"lazyLoad"`
	BrowserCache bool `yaml:"browserCache"`
}

// AllModules enables every feature.
func AllModules() Modules {
	return Modules{Minify: true, StaticCache: true, LazyLoad: true, BrowserCache: true}
}

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Age after which a stored page is regenerated. Defaults to DefaultTTL.
	TTL time.Duration
	// Cache-Control max-age for browsers. Defaults to DefaultBrowserMaxAge.
	BrowserMaxAge time.Duration
	// Extra headers for every non-administrative response, applied after
	// the browser cache header.
	Headers transformer.Rule
	// Requests whose path and query contain any of these substrings are never cached.
	Whitelist []string
	// Path prefixes of administrative pages. These get no caching, no
	// transforms and no browser cache headers.
	AdminPrefixes []string
	Modules       Modules
	// Let concurrent misses for the same key share a single regeneration.
	// Off by default: every miss regenerates and the last write wins.
	Coalesce bool
	// Optional metrics sink.
	Metrics *metrics.Metrics
	// Clock, time.Now if nil.
	Now func() time.Time
}

// Gate decides for every request whether to serve a stored page,
// regenerate and store it, or stay out of the way.
type Gate struct {
	cache         cache.CacheProvider
	keyer         cachekey.CacheKeyer
	log           zerolog.Logger
	ttl           time.Duration
	browserRule   transformer.Rule
	headers       transformer.Rule
	whitelist     []string
	adminPrefixes []string
	modules       Modules
	pipeline      transformer.Pipeline
	flight        *singleflight.Group
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New initializes the gate from config.
func New(config Config) *Gate {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "gate").Logger()

	g := &Gate{
		cache:         config.Cache,
		keyer:         cachekey.NewCacheKeyer(),
		log:           logger,
		ttl:           config.TTL,
		headers:       config.Headers,
		whitelist:     compactRules(config.Whitelist),
		adminPrefixes: compactRules(config.AdminPrefixes),
		modules:       config.Modules,
		pipeline:      transformer.NewPipeline(config.Modules.Minify, config.Modules.LazyLoad),
		metrics:       config.Metrics,
		now:           config.Now,
	}
	if g.cache == nil {
		g.cache = cache.NewMemCache()
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	maxAge := config.BrowserMaxAge
	if maxAge <= 0 {
		maxAge = DefaultBrowserMaxAge
	}
	g.browserRule = transformer.BrowserCacheRule(maxAge)
	if g.now == nil {
		g.now = time.Now
	}
	if config.Coalesce {
		g.flight = &singleflight.Group{}
	}
	if err := g.metrics.RegisterEntries(g.countEntries); err != nil {
		g.log.Warn().Err(err).Msg("Could not register entries gauge")
	}
	return g
}

// ParseWhitelist splits configuration text into whitelist rules:
// one rule per line, trimmed, blank lines dropped, order kept.
func ParseWhitelist(text string) []string {
	lines := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	return compactRules(lines)
}

func compactRules(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		if rule = strings.TrimSpace(rule); rule != "" {
			out = append(out, rule)
		}
	}
	return out
}

// Content applies the content-region transforms (lazy-loading images) to html.
// Page generators call it on their main content before writing it out.
func (g *Gate) Content(html string) string {
	return g.pipeline.Content(html)
}

// Document applies the content-region transforms to the body of a complete
// document, for generators that cannot tell their main content apart.
func (g *Gate) Document(html string) string {
	return g.pipeline.Document(html)
}

// IsAdmin reports whether the request targets an administrative page.
// Prefixes match whole path segments: /wp-admin covers /wp-admin and
// /wp-admin/options.php but not /wp-admins.
func (g *Gate) IsAdmin(r *http.Request) bool {
	for _, prefix := range g.adminPrefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/") {
			return true
		}
	}
	return false
}

// whitelisted returns the first rule contained in uri.
func (g *Gate) whitelisted(uri string) (string, bool) {
	for _, rule := range g.whitelist {
		if strings.Contains(uri, rule) {
			return rule, true
		}
	}
	return "", false
}

// ClearAll removes every stored page.
// Entries that cannot be removed are logged and skipped.
func (g *Gate) ClearAll() (int, error) {
	removed, err := g.cache.Clear()
	if err != nil {
		g.log.Warn().Err(err).Int("removed", removed).Msg("Some cache entries could not be removed")
	} else {
		g.log.Info().Int("removed", removed).Msg("Cache cleared")
	}
	g.metrics.Cleared(removed)
	return removed, err
}

// Purge drops the stored page for uri, the path and query as requested.
// Purging a page that is not stored is not an error.
func (g *Gate) Purge(uri string) error {
	key := g.keyer.KeyForURI(uri)
	if err := g.cache.Purge(key); err != nil {
		g.log.Warn().Err(err).Str("uri", uri).Msg("Could not purge page")
		return err
	}
	g.log.Info().Str("uri", uri).Str("key", key).Msg("Page purged")
	g.metrics.Purged()
	return nil
}

// Sink stores a freshly generated page for the key it was created for.
type Sink struct {
	g   *Gate
	key string
	uri string
}

// Commit runs the page transforms on body, stores the result and returns it.
// The returned body must be served whether or not storing succeeded.
// Nothing is stored once ctx is done, since the body may be incomplete.
func (s *Sink) Commit(ctx context.Context, body []byte) ([]byte, bool) {
	transformed := s.g.pipeline.Page(body)
	log := s.g.log.With().Str("key", s.key).Str("uri", s.uri).Logger()
	if err := ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("Request aborted, not storing")
		return transformed, false
	}
	ce := cache.CacheEntry{
		Key:       s.key,
		CreatedAt: s.g.now(),
		Bytes:     transformed,
	}
	if err := s.g.cache.Put(ce); err != nil {
		log.Error().Err(err).Msg("Could not write to cache")
		s.g.metrics.StoreError()
		return transformed, false
	}
	log.Trace().Int("bytes", len(transformed)).Msg("Cache write")
	return transformed, true
}

// Entries returns the number of stored pages.
func (g *Gate) Entries() (int, error) {
	count := 0
	err := g.cache.Keys(func(string) { count++ })
	return count, err
}

func (g *Gate) countEntries() float64 {
	count, err := g.Entries()
	if err != nil {
		g.log.Warn().Err(err).Msg("Could not count cache entries")
	}
	return float64(count)
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the gate logger.
func (g *Gate) getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &g.log
	}
	return logger
}
