package httputil

import (
	"net/http"
	"net/url"
	"time"
)

// NewFeedClient builds the client used against the snapshot feed
// endpoint. The optional proxy matters when the feed sits next to the
// scraper behind the same egress.
func NewFeedClient(timeout time.Duration, proxy string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
