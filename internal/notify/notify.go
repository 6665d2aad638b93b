package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier posts plain-text messages to an ntfy topic. A Notifier with an
// empty endpoint does nothing.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// DownloadsSaved reports a finished download batch.
func (n *Notifier) DownloadsSaved(ctx context.Context, files []string) error {
	if !n.Enabled() {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, downloadMessage(files))
}

func downloadMessage(files []string) string {
	switch len(files) {
	case 0:
		return "tabtalk: no pages could be saved."
	case 1:
		return "tabtalk saved 1 page: " + files[0]
	}
	return fmt.Sprintf("tabtalk saved %d pages:\n%s", len(files), strings.Join(files, "\n"))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("ntfy notification failed: endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
