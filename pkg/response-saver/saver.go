package saver

import (
	"bytes"
	"net/http"
)

// ResponseSaver is an http.ResponseWriter that keeps the whole response in memory.
// Nothing reaches the client until the caller decides what to send, which lets
// the body be transformed (and stored) first.
//
// A streaming saver makes that decision when the headers are written: responses
// the keep func rejects go straight to the client instead.
type ResponseSaver struct {
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool

	client   http.ResponseWriter
	keep     func(http.Header) bool
	streamed bool
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	// only the first call counts, like net/http
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	if t.client != nil && !t.keep(t.header) {
		t.streamed = true
		copyHeader(t.client.Header(), t.header)
		t.client.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.streamed {
		return t.client.Write(b)
	}
	return t.b.Write(b)
}

// Implementation of http.Flusher, so proxied streams keep flowing.
// Buffered responses have nothing to flush.
func (t *ResponseSaver) Flush() {
	if t.streamed {
		http.NewResponseController(t.client).Flush()
	}
}

// Streamed reports whether the response already went to the client.
// Body is empty and SendTo must not be called in that case.
func (t *ResponseSaver) Streamed() bool {
	return t.streamed
}

// Body returns the recorded body.
func (t *ResponseSaver) Body() []byte {
	return t.b.Bytes()
}

// StatusCode returns the status code of the response.
// A handler that never wrote anything produced an implicit 200.
func (t *ResponseSaver) StatusCode() int {
	if !t.wroteHeaders {
		return http.StatusOK
	}
	return t.status
}

// SendTo writes the recorded status and headers followed by body to w.
// Content-Length is dropped because body usually differs from the recorded one.
func (t *ResponseSaver) SendTo(w http.ResponseWriter, body []byte) (int, error) {
	copyHeader(w.Header(), t.header)
	w.Header().Del("Content-Length")
	w.WriteHeader(t.StatusCode())
	return w.Write(body)
}

// NewResponseSaver returns a new ResponseSaver.
// The saver starts with a copy of header, typically the headers already set on the
// client response by earlier middleware.
func NewResponseSaver(header http.Header) *ResponseSaver {
	rs := &ResponseSaver{
		b:      &bytes.Buffer{},
		header: http.Header{},
	}
	copyHeader(rs.header, header)
	return rs
}

// NewStreamingSaver returns a ResponseSaver that only holds back responses
// for which keep returns true. keep sees the headers as set by the handler.
func NewStreamingSaver(client http.ResponseWriter, keep func(http.Header) bool) *ResponseSaver {
	rs := NewResponseSaver(nil)
	rs.client = client
	rs.keep = keep
	return rs
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
