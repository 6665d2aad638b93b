// Package bus carries messages between in-page scripts, network interceptors
// and the coordinator.
package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeCollectPageContent       = "collect-page-content"
	TypeGetSelectedTabsData      = "get-selected-tabs-data"
	TypeMarkdownPasteComplete    = "markdown-paste-complete"
	TypeDownloadMarkdown         = "download-markdown"
	TypeIconStyleChanged         = "icon-style-changed"
	TypeOSThemeChanged           = "os-theme-changed"
	TypeGetYouTubeCaption        = "get-youtube-caption"
	TypeGetNotionPageMarkdown    = "get-notion-page-markdown"
	TypeNotionPageChunksMarkdown = "notion-page-chunks-markdown"
	TypePageContentCollected     = "page-content-collected"
	TypeOpenPromptsEditor        = "open-prompts-editor"

	// TypeRoundStatus reports busy state changes; it drives the badge stream.
	TypeRoundStatus = "round-status"
)

// Message is one bus event. TabID is the sending tab for messages that
// originate in a page, and empty otherwise.
type Message struct {
	Type    string          `json:"type"`
	TabID   string          `json:"tab_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewMessage marshals payload into a message. A nil payload is omitted.
func NewMessage(typ, tabID string, payload any) (Message, error) {
	m := Message{Type: typ, TabID: tabID, At: time.Now().UTC()}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("bus: marshal %s: %w", typ, err)
	}
	m.Payload = raw
	return m, nil
}

// Decode unmarshals the payload into out.
func (m Message) Decode(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("bus: %s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("bus: decode %s: %w", m.Type, err)
	}
	return nil
}

// Presentational messages carry no behaviour outside a UI.
func Presentational(typ string) bool {
	return typ == TypeIconStyleChanged || typ == TypeOSThemeChanged
}

// Page scripts may only report results and read caches. Everything that
// starts a round or touches the host arrives over the HTTP API.
var (
	pageSends = map[string]bool{
		TypePageContentCollected:  true,
		TypeMarkdownPasteComplete: true,
	}
	pageRequests = map[string]bool{
		TypeGetSelectedTabsData:   true,
		TypeGetYouTubeCaption:     true,
		TypeGetNotionPageMarkdown: true,
	}
)

// AcceptedFromPage reports whether a tab may post typ, one way or as a
// request expecting a reply.
func AcceptedFromPage(typ string, request bool) bool {
	if request {
		return pageRequests[typ]
	}
	return pageSends[typ]
}
