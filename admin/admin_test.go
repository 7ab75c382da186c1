package admin

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type fakeCache struct {
	entries int
	clears  int
	purged  []string
}

func (c *fakeCache) ClearAll() (int, error) {
	c.clears++
	removed := c.entries
	c.entries = 0
	return removed, nil
}

func (c *fakeCache) Purge(uri string) error {
	c.purged = append(c.purged, uri)
	return nil
}

func (c *fakeCache) Entries() (int, error) {
	return c.entries, nil
}

func newTestRouter(c Cache) http.Handler {
	logger := zerolog.Nop()
	r := chi.NewRouter()
	r.Mount("/ssc-admin", New(Options{
		Cache:    c,
		Prefix:   "/ssc-admin",
		Username: "admin",
		Password: "secret",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ssc_entries 3\n"))
		}),
		Logger: &logger,
	}))
	return r
}

var clearLink = regexp.MustCompile(`href="(/ssc-admin/clear\?_sscnonce=[^"]+)"`)

// openOverview loads the admin page and returns the session cookie and clear link.
func openOverview(t *testing.T, h http.Handler) (*http.Cookie, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/ssc-admin/", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Overview status is %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie {
		t.Fatalf("Cookies are %v", cookies)
	}
	m := clearLink.FindStringSubmatch(rr.Body.String())
	if m == nil {
		t.Fatalf("No clear link in %s", rr.Body.String())
	}
	return cookies[0], m[1]
}

func TestOverviewShowsEntries(t *testing.T) {
	h := newTestRouter(&fakeCache{entries: 3})
	req := httptest.NewRequest("GET", "/ssc-admin/", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), "3 stored pages") {
		t.Fatalf("Body is %s", rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control is %s", cc)
	}
}

func TestOverviewRequiresAuth(t *testing.T) {
	h := newTestRouter(&fakeCache{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/ssc-admin/", nil))
	if rr.Code != http.StatusUnauthorized || rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("Status is %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/ssc-admin/", nil)
	req.SetBasicAuth("admin", "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Status with wrong password is %d", rr.Code)
	}
}

func TestClearRedirectsToReferer(t *testing.T) {
	c := &fakeCache{entries: 5}
	h := newTestRouter(c)
	cookie, link := openOverview(t, h)

	req := httptest.NewRequest("GET", link, nil)
	req.SetBasicAuth("admin", "secret")
	req.AddCookie(cookie)
	req.Header.Set("Referer", "http://example.com/blog/?p=1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("Status is %d with body %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "http://example.com/blog/?p=1" {
		t.Fatalf("Location is %s", loc)
	}
	if c.clears != 1 || c.entries != 0 {
		t.Fatalf("Cleared %d times, %d entries left", c.clears, c.entries)
	}
}

func TestClearByPost(t *testing.T) {
	c := &fakeCache{entries: 1}
	h := newTestRouter(c)
	cookie, link := openOverview(t, h)
	u, _ := url.Parse(link)

	req := httptest.NewRequest("POST", "/ssc-admin/clear", strings.NewReader(u.RawQuery))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "secret")
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/ssc-admin/" {
		t.Fatalf("Status is %d, location %s", rr.Code, rr.Header().Get("Location"))
	}
	if c.clears != 1 {
		t.Fatalf("Cleared %d times", c.clears)
	}
}

func TestClearRefused(t *testing.T) {
	c := &fakeCache{entries: 2}
	h := newTestRouter(c)
	cookie, link := openOverview(t, h)
	otherCookie, _ := openOverview(t, h)

	cases := map[string]func() *http.Request{
		"no auth": func() *http.Request {
			req := httptest.NewRequest("GET", link, nil)
			req.AddCookie(cookie)
			return req
		},
		"no session": func() *http.Request {
			req := httptest.NewRequest("GET", link, nil)
			req.SetBasicAuth("admin", "secret")
			return req
		},
		"other session": func() *http.Request {
			req := httptest.NewRequest("GET", link, nil)
			req.SetBasicAuth("admin", "secret")
			req.AddCookie(otherCookie)
			return req
		},
		"no nonce": func() *http.Request {
			req := httptest.NewRequest("GET", "/ssc-admin/clear", nil)
			req.SetBasicAuth("admin", "secret")
			req.AddCookie(cookie)
			return req
		},
		"forged nonce": func() *http.Request {
			req := httptest.NewRequest("GET", "/ssc-admin/clear?_sscnonce=forged", nil)
			req.SetBasicAuth("admin", "secret")
			req.AddCookie(cookie)
			return req
		},
	}
	for name, newReq := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, newReq())
		if rr.Code != http.StatusForbidden || strings.TrimSpace(rr.Body.String()) != "Unauthorized" {
			t.Fatalf("%s: status %d with body %s", name, rr.Code, rr.Body.String())
		}
	}
	if c.clears != 0 || c.entries != 2 {
		t.Fatalf("Cleared %d times", c.clears)
	}
}

func TestPurgeByPost(t *testing.T) {
	c := &fakeCache{entries: 2}
	h := newTestRouter(c)
	cookie, link := openOverview(t, h)
	u, _ := url.Parse(link)
	nonce := u.Query().Get(NonceParam)

	purge := func(form url.Values, withCookie bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/ssc-admin/purge", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth("admin", "secret")
		if withCookie {
			req.AddCookie(cookie)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := purge(url.Values{NonceParam: {nonce}, "uri": {"/blog/?p=1"}}, true)
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/ssc-admin/" {
		t.Fatalf("Status is %d, location %s", rr.Code, rr.Header().Get("Location"))
	}
	if len(c.purged) != 1 || c.purged[0] != "/blog/?p=1" {
		t.Fatalf("Purged %v", c.purged)
	}

	if rr := purge(url.Values{NonceParam: {nonce}, "uri": {"blog"}}, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("Relative uri status is %d", rr.Code)
	}
	if rr := purge(url.Values{"uri": {"/blog/"}}, true); rr.Code != http.StatusForbidden {
		t.Fatalf("Purge without nonce status is %d", rr.Code)
	}
	if rr := purge(url.Values{NonceParam: {nonce}, "uri": {"/blog/"}}, false); rr.Code != http.StatusForbidden {
		t.Fatalf("Purge without session status is %d", rr.Code)
	}
	if len(c.purged) != 1 || c.clears != 0 {
		t.Fatalf("Purged %v, cleared %d times", c.purged, c.clears)
	}
}

func TestNoCredentialsConfigured(t *testing.T) {
	logger := zerolog.Nop()
	h := New(Options{Cache: &fakeCache{}, Logger: &logger})
	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("", "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("Status is %d", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestRouter(&fakeCache{})
	req := httptest.NewRequest("GET", "/ssc-admin/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ssc_entries 3") {
		t.Fatalf("Status is %d with body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/ssc-admin/metrics", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Unauthenticated metrics status is %d", rr.Code)
	}
}

func TestRedirectTarget(t *testing.T) {
	s := &server{prefix: "/ssc-admin"}
	cases := map[string]string{
		"":                              "/ssc-admin/",
		"/blog/?p=1":                    "/blog/?p=1",
		"http://example.com/page":       "http://example.com/page",
		"https://evil.test/page":        "/ssc-admin/",
		"//evil.test/page":              "/ssc-admin/",
		"javascript:alert(1)":           "/ssc-admin/",
		"relative/path":                 "/ssc-admin/",
		"ftp://example.com/page":        "/ssc-admin/",
		"http://example.com.evil.test/": "/ssc-admin/",
	}
	for referer, want := range cases {
		req := httptest.NewRequest("GET", "http://example.com/ssc-admin/clear", nil)
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		if got := s.redirectTarget(req); got != want {
			t.Fatalf("Referer %q redirects to %s, expected %s", referer, got, want)
		}
	}
}

func TestNonceStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewNonceStore(time.Hour, func() time.Time { return now })

	token := s.Issue("session-a")
	if !s.Verify("session-a", token) {
		t.Fatal("Fresh token rejected")
	}
	if !s.Verify("session-a", token) {
		t.Fatal("Token rejected on reuse")
	}
	if s.Verify("session-b", token) {
		t.Fatal("Token accepted for another session")
	}
	if s.Verify("", "") {
		t.Fatal("Empty token accepted")
	}
	now = now.Add(time.Hour)
	if s.Verify("session-a", token) {
		t.Fatal("Expired token accepted")
	}
}
