package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
)

const DefaultBaseURL = "https://www.notion.so/api/v3/"

// Client calls Notion's private v3 API with a browser session's cookies.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Limiter *rate.Limiter
	Cookie  string
}

// NewClient allows rps requests per second with a burst of 3. A zero rps
// disables limiting.
func NewClient(rps float64) *Client {
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 3)
	}
	return &Client{
		HTTP:    &http.Client{Timeout: 20 * time.Second},
		BaseURL: DefaultBaseURL,
		Limiter: lim,
	}
}

// WithCookie returns a copy that sends the given Cookie header.
func (c *Client) WithCookie(cookie string) *Client {
	cp := *c
	cp.Cookie = cookie
	return &cp
}

type loadPageChunkRequest struct {
	PageID          string `json:"pageId"`
	Limit           int    `json:"limit"`
	Cursor          cursor `json:"cursor"`
	ChunkNumber     int    `json:"chunkNumber"`
	VerticalColumns bool   `json:"verticalColumns"`
}

type cursor struct {
	Stack []any `json:"stack"`
}

type recordRequest struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

func (c *Client) LoadPageChunk(ctx context.Context, pageID string) (*RecordMap, error) {
	req := loadPageChunkRequest{
		PageID: pageID,
		Limit:  100,
		Cursor: cursor{Stack: []any{}},
	}
	var resp struct {
		RecordMap *RecordMap `json:"recordMap"`
	}
	if err := c.post(ctx, "loadPageChunk", req, &resp); err != nil {
		return nil, err
	}
	if resp.RecordMap == nil {
		return nil, fmt.Errorf("notion: loadPageChunk: response has no recordMap")
	}
	if resp.RecordMap.Block == nil {
		resp.RecordMap.Block = make(map[string]*Block)
	}
	return resp.RecordMap, nil
}

func (c *Client) GetRecordValues(ctx context.Context, ids []string) ([]*Block, error) {
	reqs := make([]recordRequest, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, recordRequest{Table: "block", ID: id})
	}
	var resp struct {
		Results []*Block `json:"results"`
	}
	if err := c.post(ctx, "getRecordValues", map[string]any{"requests": reqs}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notion: %s: %w", endpoint, err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notion: %s: marshal: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notion: %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Cookie != "" {
		req.Header.Set("Cookie", c.Cookie)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return cdpcontrol.NewError(cdpcontrol.CodeAPIUnavailable, "notion: "+endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return cdpcontrol.NewError(cdpcontrol.CodeAPIUnavailable, fmt.Sprintf("notion: %s: HTTP %d", endpoint, resp.StatusCode), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return cdpcontrol.NewError(cdpcontrol.CodeAPIUnavailable, "notion: "+endpoint+": decode", err)
	}
	return nil
}
