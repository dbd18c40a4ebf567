// Package httpclient builds the pooled HTTP client shared by the backend,
// identity, attachment and connector clients.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// New returns an HTTP client with connection pooling. timeout is a hard upper
// bound per request; callers apply tighter per-step deadlines through their
// request contexts.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
