package extract

import (
	"net/url"
	"strings"
)

// Kind tags which extractor variant handles a page.
type Kind string

const (
	KindGeneral Kind = "general"
	KindYouTube Kind = "youtube"
	KindNotion  Kind = "notion"
)

// Select picks exactly one extractor for a URL. YouTube watch pages win over
// Notion, and everything else is General.
func Select(raw string) Kind {
	u, err := url.Parse(raw)
	if err != nil {
		return KindGeneral
	}
	host := strings.ToLower(u.Hostname())

	if (host == "youtube.com" || host == "www.youtube.com") && strings.HasPrefix(u.Path, "/watch") {
		return KindYouTube
	}
	if strings.Contains(host, "notion.so") {
		return KindNotion
	}
	return KindGeneral
}

// Collectable reports whether a tab URL can be extracted at all.
func Collectable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
