package types

import "time"

// InterceptedResponse is a matched network response handed to an intercept sink.
type InterceptedResponse struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Rule         string    `json:"rule"`
	TabID        string    `json:"tab_id"`
	TabURL       string    `json:"tab_url"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	Body         []byte    `json:"-"`
	Truncated    bool      `json:"truncated,omitempty"`
	OriginalSize int       `json:"original_size,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
	// Refetched is set when the body came from a cookie-bearing re-request
	// instead of Network.getResponseBody.
	Refetched bool `json:"refetched,omitempty"`
}

// PendingRequest tracks a matched request waiting for its body.
type PendingRequest struct {
	Response     *InterceptedResponse
	Headers      map[string]string
	Timestamp    time.Time
	ResourceType string
	Refetch      bool
}
