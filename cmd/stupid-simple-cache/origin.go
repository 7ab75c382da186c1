package main

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	ssc "github.com/bedynamictech/Stupid-Simple-Cache"
)

// contentTransformer is the part of the gate applied while pages are generated.
type contentTransformer interface {
	Document(html string) string
	IsAdmin(r *http.Request) bool
}

// newOrigin returns the page generator: a reverse proxy to the origin that
// applies the content transforms to HTML pages on their way through.
func newOrigin(originURL, originHost string, transformer contentTransformer) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, err
	}

	host := u.Host
	hostHeader := host
	transport := http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}

	return &httputil.ReverseProxy{
		Director:       createDirector(u.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: transformDocument(transformer),
	}, nil
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
		// bodies are rewritten, so ask the origin for identity encoding
		req.Header.Del("Accept-Encoding")
	}
}

func transformDocument(transformer contentTransformer) func(*http.Response) error {
	return func(res *http.Response) error {
		if res.StatusCode != http.StatusOK || !ssc.IsHTML(res.Header) {
			return nil
		}
		// administrative pages are passed on as the origin wrote them
		if res.Request != nil && transformer.IsAdmin(res.Request) {
			return nil
		}
		if enc := res.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
			return nil
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if err := res.Body.Close(); err != nil {
			return err
		}
		transformed := []byte(transformer.Document(string(body)))
		res.Body = io.NopCloser(bytes.NewReader(transformed))
		res.ContentLength = int64(len(transformed))
		res.Header.Set("Content-Length", strconv.Itoa(len(transformed)))
		return nil
	}
}
