// Package transport defines the external HTTP collaborators scoped as
// non-goals here: HTTP/1.1 server and client plumbing, consumed
// through a request-callback abstraction and a "GET/POST/custom-verb
// with headers" client. internal/gena depends
// only on these interfaces; DefaultClient is a minimal net/http-backed
// implementation sufficient to exercise them end to end, grounded on
// the core library's own direct net/http usage rather than a
// higher-level HTTP client/router package — GENA's custom verbs
// (SUBSCRIBE/UNSUBSCRIBE) don't fit a router abstraction, and a bare
// http.Client+http.NewRequest is the idiomatic way to issue them.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Response is the subset of an HTTP response GENA's subscription
// exchange needs: status and case-insensitive header lookup.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Get looks up a header case-insensitively (http.Header already
// canonicalizes keys, but GENA callers pass UPPER-CASE names like the
// wire format uses).
func (r *Response) Get(name string) string {
	return r.Header.Get(name)
}

// Client issues the custom-verb HTTP requests GENA needs
// (SUBSCRIBE/UNSUBSCRIBE) plus NOTIFY delivery to remote subscribers.
type Client interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*Response, error)
}

// DefaultClient is a thin net/http.Client wrapper implementing Client.
type DefaultClient struct {
	HTTP *http.Client
}

// NewDefaultClient returns a DefaultClient with the given timeout.
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	return &DefaultClient{HTTP: &http.Client{Timeout: timeout}}
}

func (c *DefaultClient) Do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

// NotifyTransaction is the parsed inbound HTTP transaction the mini
// web server hands to GENA's NOTIFY ingress handler (the scope:
// "assumed to deliver parsed transactions").
type NotifyTransaction struct {
	Headers map[string]string // already lower-cased keys
	Body    []byte
}

// PropertySetParser decodes a GENA NOTIFY body's <propertyset> XML
// into a string->string map, standing in for the SAX-style XML
// visitor the scope names as a non-goal collaborator.
type PropertySetParser interface {
	Parse(body []byte) (map[string]string, error)
}
