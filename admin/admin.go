// Package admin serves the administrative pages of the cache: an overview
// with the clear link and purge form, the actions behind them, and the metrics.
//
// Every route requires HTTP basic authentication. Clearing and purging
// additionally require the session cookie handed out by the overview page
// and an anti-forgery token bound to that session.
package admin

import (
	"crypto/subtle"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	SessionCookie = "ssc_session"
	NonceParam    = "_sscnonce"
)

// Cache is the part of the cache gate the admin pages act on.
type Cache interface {
	ClearAll() (int, error)
	Purge(uri string) error
	Entries() (int, error)
}

type Options struct {
	Cache Cache
	// Path the admin router is mounted under, e.g. "/ssc-admin".
	// Used for links, cookies and the default redirect.
	Prefix string
	// Basic auth credentials. Without a username every request is refused.
	Username string
	Password string
	// Serves GET /metrics when set.
	Metrics http.Handler
	// Logger to use. Requests are logged through hlog.
	Logger *zerolog.Logger
	// Lifetime of anti-forgery tokens, DefaultNonceLifetime if zero.
	NonceLifetime time.Duration
	Now           func() time.Time
}

type server struct {
	cache    Cache
	prefix   string
	username string
	password string
	nonces   *NonceStore
}

// New returns the admin router.
func New(opts Options) http.Handler {
	var logger zerolog.Logger
	if opts.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "admin").Logger()

	s := &server{
		cache:    opts.Cache,
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		username: opts.Username,
		password: opts.Password,
		nonces:   NewNonceStore(opts.NonceLifetime, opts.Now),
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))

	r.With(s.requireAuth).Get("/", s.overview)
	r.Get("/clear", s.clear)
	r.Post("/clear", s.clear)
	r.Post("/purge", s.purge)
	if opts.Metrics != nil {
		r.With(s.requireAuth).Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

// authenticated checks the basic auth credentials in constant time.
func (s *server) authenticated(r *http.Request) bool {
	if s.username == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		if s.username == "" {
			forbidden(w)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Stupid Simple Cache", charset="UTF-8"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// session returns the session id from the cookie, creating the session if needed.
func (s *server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     s.prefix + "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return id
}

var overviewTemplate = template.Must(template.New("overview").Parse(`<!DOCTYPE html>
<html>
<head><title>Stupid Simple Cache</title></head>
<body>
<h1>Stupid Simple Cache</h1>
{{if .CountErr}}<p>Stored pages could not be counted.</p>{{else}}<p>{{.Entries}} stored pages.</p>{{end}}
<p><a href="{{.ClearURL}}">Clear Cache</a></p>
<form method="post" action="{{.PurgeURL}}">
<input type="hidden" name="_sscnonce" value="{{.Nonce}}">
<input type="text" name="uri" placeholder="/path?query">
<button type="submit">Purge Page</button>
</form>
</body>
</html>
`))

func (s *server) overview(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	entries, err := s.cache.Entries()
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Could not count cache entries")
	}
	nonce := s.nonces.Issue(session)
	data := struct {
		Entries  int
		CountErr bool
		ClearURL string
		PurgeURL string
		Nonce    string
	}{
		Entries:  entries,
		CountErr: err != nil,
		ClearURL: s.prefix + "/clear?" + url.Values{NonceParam: {nonce}}.Encode(),
		PurgeURL: s.prefix + "/purge",
		Nonce:    nonce,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := overviewTemplate.Execute(w, data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not render admin page")
	}
}

// allowed checks credentials, session and anti-forgery token of an action.
func (s *server) allowed(r *http.Request, action string) bool {
	log := hlog.FromRequest(r)
	if !s.authenticated(r) {
		log.Warn().Str("action", action).Msg("Refused: not authenticated")
		return false
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || !s.nonces.Verify(c.Value, r.FormValue(NonceParam)) {
		log.Warn().Str("action", action).Msg("Refused: invalid nonce")
		return false
	}
	return true
}

func (s *server) clear(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	if !s.allowed(r, "clear") {
		forbidden(w)
		return
	}

	removed, err := s.cache.ClearAll()
	if err != nil {
		// partial clears still count as done
		log.Warn().Err(err).Int("removed", removed).Msg("Cache cleared with failures")
	} else {
		log.Info().Int("removed", removed).Msg("Cache cleared")
	}
	http.Redirect(w, r, s.redirectTarget(r), http.StatusFound)
}

func (s *server) purge(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(r, "purge") {
		forbidden(w)
		return
	}
	uri := strings.TrimSpace(r.FormValue("uri"))
	if !strings.HasPrefix(uri, "/") {
		http.Error(w, "uri must start with a slash", http.StatusBadRequest)
		return
	}
	if err := s.cache.Purge(uri); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("uri", uri).Msg("Purge failed")
		http.Error(w, "Purge failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, s.redirectTarget(r), http.StatusFound)
}

// redirectTarget returns the referer if it points back to this host,
// the admin overview otherwise.
func (s *server) redirectTarget(r *http.Request) string {
	fallback := s.prefix + "/"
	referer := r.Referer()
	if referer == "" {
		return fallback
	}
	u, err := url.Parse(referer)
	if err != nil {
		return fallback
	}
	if u.Host == "" {
		if u.Scheme != "" || !strings.HasPrefix(u.Path, "/") {
			return fallback
		}
		return u.RequestURI()
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == r.Host {
		return u.String()
	}
	return fallback
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, "Unauthorized", http.StatusForbidden)
}
