package types

// CollectedTabInfo is the normalized result of collecting one tab. Content
// is always the wrapped <selectedText>/<content> document.
type CollectedTabInfo struct {
	TabID   string `json:"tab_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}
