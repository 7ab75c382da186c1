package ssc

import (
	"context"
	"mime"
	"net/http"
	"strings"

	cachestatus "github.com/bedynamictech/Stupid-Simple-Cache/pkg/cache-status"
	saver "github.com/bedynamictech/Stupid-Simple-Cache/pkg/response-saver"

	"github.com/rs/zerolog"
)

// generated is the outcome of running the page generator for a miss.
type generated struct {
	rs     *saver.ResponseSaver
	body   []byte
	stored bool
}

// Middleware wraps a page generator with the cache gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := g.getLogger(r)
		admin := g.IsAdmin(r)
		if !admin {
			if g.modules.BrowserCache {
				g.browserRule.Apply(w.Header())
			}
			g.headers.Apply(w.Header())
		}

		action := g.safeEvaluate(r)

		switch action.Kind {
		case ServeNotModified:
			w.Header().Set("ETag", action.ETag)
			w.Header().Set("Cache-Status", action.Status.String())
			w.WriteHeader(http.StatusNotModified)
		case ServeFresh:
			w.Header().Set("ETag", action.ETag)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Status", action.Status.String())
			if _, err := w.Write(action.Body); err != nil {
				log.Error().Err(err).Msg("Could not write response body to client")
			}
		case RegenerateAndCapture:
			w.Header().Set("Cache-Status", action.Status.String())
			res := g.generate(next, w, r, action)
			if res.rs.Streamed() {
				break
			}
			action.Status.Stored = res.stored
			w.Header().Set("Cache-Status", action.Status.String())
			if _, err := res.rs.SendTo(w, res.body); err != nil {
				log.Error().Err(err).Msg("Could not write response body to client")
			}
		default:
			if !admin {
				w.Header().Set("Cache-Status", action.Status.String())
			}
			g.bypass(next, w, r, admin)
		}

		g.metrics.ObserveRequest(resultLabel(action))
		logResponse(log, r, action)
	})
}

// generate runs the page generator and commits 200 HTML responses. Anything
// that is not a page streams straight to the client.
// With coalescing enabled, concurrent misses for the same key share one run.
// That run is fully buffered and does not end when the first client goes away.
func (g *Gate) generate(next http.Handler, w http.ResponseWriter, r *http.Request, action Action) generated {
	if g.flight == nil {
		return g.capture(next, saver.NewStreamingSaver(w, IsHTML), r, action)
	}
	detached := r.WithContext(context.WithoutCancel(r.Context()))
	v, _, shared := g.flight.Do(action.Key, func() (interface{}, error) {
		return g.capture(next, saver.NewResponseSaver(nil), detached, action), nil
	})
	if shared {
		g.getLogger(r).Trace().Str("key", action.Key).Msg("Shared regeneration")
	}
	return v.(generated)
}

func (g *Gate) capture(next http.Handler, rs *saver.ResponseSaver, r *http.Request, action Action) generated {
	next.ServeHTTP(rs, r)
	if rs.Streamed() {
		return generated{rs: rs}
	}
	if !IsHTML(rs.Header()) {
		g.getLogger(r).Trace().Str("contentType", rs.Header().Get("Content-Type")).Msg("Not storing non-HTML response")
		return generated{rs: rs, body: rs.Body()}
	}
	if rs.StatusCode() != http.StatusOK {
		g.getLogger(r).Trace().Int("statusCode", rs.StatusCode()).Msg("Not storing non-200 response")
		return generated{rs: rs, body: g.pipeline.Page(rs.Body())}
	}
	body, stored := action.Sink.Commit(r.Context(), rs.Body())
	return generated{rs: rs, body: body, stored: stored}
}

// bypass serves the request without the cache. Non-admin GET pages are
// still minified when that module is on.
func (g *Gate) bypass(next http.Handler, w http.ResponseWriter, r *http.Request, admin bool) {
	if admin || r.Method != http.MethodGet || !g.modules.Minify {
		next.ServeHTTP(w, r)
		return
	}
	rs := saver.NewStreamingSaver(w, IsHTML)
	next.ServeHTTP(rs, r)
	if rs.Streamed() {
		return
	}
	if _, err := rs.SendTo(w, g.pipeline.Page(rs.Body())); err != nil {
		g.getLogger(r).Error().Err(err).Msg("Could not write response body to client")
	}
}

// IsHTML reports whether a response with header h is a page. Generators
// that set no Content-Type are assumed to produce HTML.
func IsHTML(h http.Header) bool {
	ct := h.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && (mediaType == "text/html" || mediaType == "application/xhtml+xml")
}

func resultLabel(action Action) string {
	switch action.Kind {
	case ServeFresh:
		return "hit"
	case ServeNotModified:
		return "not_modified"
	case RegenerateAndCapture:
		if action.Status.FwdReason == cachestatus.FwdReasonStale {
			return "stale"
		}
		return "miss"
	default:
		return "bypass"
	}
}

func logResponse(logger *zerolog.Logger, r *http.Request, action Action) {
	isHit := 0
	if action.Status.Status == cachestatus.Hit {
		isHit = 1
	}
	logger.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("action", action.Kind.String()).
		Str("status", string(action.Status.Status)).
		Str("fwd", string(action.Status.FwdReason)).
		Bool("stored", action.Status.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
