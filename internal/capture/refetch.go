package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CookieSource returns the Cookie header a tab would send to the given URLs.
type CookieSource interface {
	CookieHeader(ctx context.Context, tabID string, urls []string) (string, error)
}

// HTTPRefetcher repeats a captured GET outside the browser, carrying the
// tab's cookies and the request's own headers.
type HTTPRefetcher struct {
	cookies CookieSource
	client  *http.Client
	maxBody int64
}

func NewHTTPRefetcher(cookies CookieSource, maxBody int64) *HTTPRefetcher {
	return &HTTPRefetcher{
		cookies: cookies,
		client:  &http.Client{Timeout: 20 * time.Second},
		maxBody: maxBody,
	}
}

// skipHeaders are set by the transport or would change the response shape.
var skipHeaders = map[string]bool{
	"Cookie":          true,
	"Host":            true,
	"Content-Length":  true,
	"Accept-Encoding": true,
	"Connection":      true,
}

func (r *HTTPRefetcher) Fetch(ctx context.Context, tabID, rawURL string, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("capture: refetch: unsupported url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: refetch: %w", err)
	}
	for k, v := range headers {
		if skipHeaders[http.CanonicalHeaderKey(k)] || k == "" || k[0] == ':' {
			continue
		}
		req.Header.Set(k, v)
	}
	if r.cookies != nil {
		cookie, err := r.cookies.CookieHeader(ctx, tabID, []string{rawURL})
		if err != nil {
			return nil, fmt.Errorf("capture: refetch cookies: %w", err)
		}
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture: refetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("capture: refetch: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if r.maxBody > 0 {
		// One extra byte lets the tracker notice truncation.
		body = io.LimitReader(resp.Body, r.maxBody+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("capture: refetch read: %w", err)
	}
	return data, nil
}
