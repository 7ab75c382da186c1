package ssc

import (
	"net/http"

	cachekey "github.com/bedynamictech/Stupid-Simple-Cache/pkg/cache-key"
	cachestatus "github.com/bedynamictech/Stupid-Simple-Cache/pkg/cache-status"
)

// ActionKind is the decision taken for a request.
type ActionKind int

const (
	// Bypass lets the page be generated normally without touching the cache.
	Bypass ActionKind = iota
	// ServeFresh sends the stored body.
	ServeFresh
	// ServeNotModified answers 304 because the client already has the stored body.
	ServeNotModified
	// RegenerateAndCapture generates the page and stores the transformed result.
	RegenerateAndCapture
)

func (k ActionKind) String() string {
	switch k {
	case ServeFresh:
		return "serve-fresh"
	case ServeNotModified:
		return "not-modified"
	case RegenerateAndCapture:
		return "regenerate"
	default:
		return "bypass"
	}
}

// Action is the outcome of Evaluate.
type Action struct {
	Kind ActionKind
	// Key and URI are empty for requests that are never cached.
	Key string
	URI string
	// Body and ETag of the stored entry, set for ServeFresh and ServeNotModified.
	Body []byte
	ETag string
	// Status is the Cache-Status header value describing the decision.
	Status cachestatus.CacheStatus
	// Sink receives the generated page, set for RegenerateAndCapture.
	Sink *Sink
}

// Evaluate decides how a request is handled. It never fails: a storage
// error while looking up the entry is treated as a miss.
func (g *Gate) Evaluate(r *http.Request) Action {
	action := Action{}

	if r.Method != http.MethodGet {
		action.Status.Forward(cachestatus.FwdReasonMethod)
		return action
	}
	if g.IsAdmin(r) {
		action.Status.Forward(cachestatus.FwdReasonBypass)
		action.Status.Detail = "admin"
		return action
	}
	if !g.modules.StaticCache {
		action.Status.Forward(cachestatus.FwdReasonBypass)
		action.Status.Detail = "disabled"
		return action
	}

	uri := cachekey.RequestURI(r)
	log := g.getLogger(r)
	if rule, ok := g.whitelisted(uri); ok {
		log.Trace().Str("uri", uri).Str("rule", rule).Msg("Whitelisted, not caching")
		action.Status.Forward(cachestatus.FwdReasonBypass)
		action.Status.Detail = "whitelist"
		return action
	}

	action.URI = uri
	action.Key = g.keyer.GetKey(r)

	entry, found, err := g.cache.Get(action.Key)
	if err != nil {
		log.Warn().Err(err).Str("key", action.Key).Msg("Could not read from cache, treating as miss")
		found = false
	}

	switch {
	case found && entry.Fresh(g.ttl, g.now()):
		action.Status.Hit()
		action.Body = entry.Bytes
		action.ETag = entry.ETag()
		if r.Header.Get("If-None-Match") == action.ETag {
			action.Kind = ServeNotModified
		} else {
			action.Kind = ServeFresh
		}
	case found:
		log.Trace().Str("key", action.Key).Time("createdAt", entry.CreatedAt).Msg("Entry is stale")
		action.Kind = RegenerateAndCapture
		action.Status.Forward(cachestatus.FwdReasonStale)
	default:
		action.Kind = RegenerateAndCapture
		action.Status.Forward(cachestatus.FwdReasonUriMiss)
	}
	if action.Kind == RegenerateAndCapture {
		action.Sink = &Sink{g: g, key: action.Key, uri: uri}
	}
	return action
}

// safeEvaluate is Evaluate with any panic downgraded to Bypass,
// so a broken cache never takes a page down.
func (g *Gate) safeEvaluate(r *http.Request) (action Action) {
	defer func() {
		if rec := recover(); rec != nil {
			g.getLogger(r).Error().Interface("panic", rec).Msg("Cache evaluation failed, bypassing")
			action = Action{}
			action.Status.Forward(cachestatus.FwdReasonBypass)
			action.Status.Detail = "error"
		}
	}()
	return g.Evaluate(r)
}
