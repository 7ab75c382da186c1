package responsetransformer

import (
	"net/http"
	"testing"
	"time"
)

func TestMinify(t *testing.T) {
	cases := map[string]string{
		"<div>   <p>hi</p>\n\t</div>": "<div><p>hi</p></div>",
		"<p>a    b</p>":               "<p>a b</p>",
		"<p>a b</p>":                  "<p>a b</p>",
		"<p>a\n\nb</p>  text":         "<p>a b</p> text",
		"<a>\n<b>":                    "<a><b>",
		"":                            "",
	}
	for in, want := range cases {
		if got := string(Minify([]byte(in))); got != want {
			t.Fatalf("Minify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMinifyIsIdempotent(t *testing.T) {
	docs := []string{
		"<html>\n  <head>  <title> T </title>\n</head>\n<body>\n\n <p>a  \t b</p> <p>c</p>\r\n</body></html>",
		"> < <> <  >   <",
		"<pre>\n  keep?\n    no\n</pre>",
		"text   with\n\nruns",
	}
	for _, doc := range docs {
		once := Minify([]byte(doc))
		twice := Minify(once)
		if string(once) != string(twice) {
			t.Fatalf("not idempotent for %q: %q then %q", doc, once, twice)
		}
	}
}

func TestLazyLoad(t *testing.T) {
	cases := map[string]string{
		`<img class="x" src="a.png">`:         `<img class="x" loading="lazy" src="a.png">`,
		`<img src="a.png">`:                   `<img loading="lazy" src="a.png">`,
		`<IMG Alt="a" SRC="a.png">`:           `<IMG Alt="a" loading="lazy" SRC="a.png">`,
		`<img class="x">`:                     `<img class="x">`,
		`<img data-src="a.png">`:              `<img data-src="a.png">`,
		`<img alt="x"><a data-src="b">`:       `<img alt="x"><a data-src="b">`,
		`<img loading="eager" src="a.png">`:   `<img loading="eager" src="a.png">`,
		`<p>no images</p>`:                    `<p>no images</p>`,
		`<img src="a"><img title="t" src=b>`:  `<img loading="lazy" src="a"><img title="t" loading="lazy" src=b>`,
		"<img\n  class=\"x\"\n  src=\"a.png\">": "<img\n  class=\"x\"\n  loading=\"lazy\" src=\"a.png\">",
	}
	for in, want := range cases {
		if got := LazyLoad(in); got != want {
			t.Fatalf("LazyLoad(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLazyLoadBodyLeavesHeadAlone(t *testing.T) {
	doc := `<html><head><noscript><img src="pixel.gif"></noscript></head><body><img src="a.png"></body></html>`
	want := `<html><head><noscript><img src="pixel.gif"></noscript></head><body><img loading="lazy" src="a.png"></body></html>`
	if got := LazyLoadBody(doc); got != want {
		t.Fatalf("got %s", got)
	}
	if got := LazyLoadBody(`<img src="a.png">`); got != `<img loading="lazy" src="a.png">` {
		t.Fatalf("fragment got %s", got)
	}
}

func TestPipelineToggles(t *testing.T) {
	body := []byte("<p>  a  </p>  <img src=x>")
	off := NewPipeline(false, false)
	if string(off.Page(body)) != string(body) || off.Content(string(body)) != string(body) {
		t.Fatal("disabled pipeline changed the body")
	}
	on := NewPipeline(true, true)
	if got := string(on.Page(body)); got != "<p> a </p><img src=x>" {
		t.Fatalf("page is %s", got)
	}
	if got := on.Content(`<img src=x>`); got != `<img loading="lazy" src=x>` {
		t.Fatalf("content is %s", got)
	}
}

func TestBrowserCacheRule(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "no-cache")
	BrowserCacheRule(24 * time.Hour).Apply(h)
	if cc := h.Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}
}

func TestApply(t *testing.T) {
	h := make(http.Header)
	ruleDefault := Rule{Default: "default"}
	ruleOverride := Rule{Override: "override", Headers: map[string]string{"X-Test": "1"}}

	// try to apply default
	ruleDefault.Apply(h)
	if cc := h.Get("Cache-Control"); cc != "default" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// change cc and check default is not set
	h.Set("Cache-Control", "no-cache")
	ruleDefault.Apply(h)
	if cc := h.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// check that override works
	ruleOverride.Apply(h)
	if cc := h.Get("Cache-Control"); cc != "override" || h.Get("X-Test") != "1" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}
}
