package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NotionPages holds rendered Notion markdown keyed by canonical page id.
// Entries expire after ttl; a ttl of zero or less keeps them.
type NotionPages struct {
	store *gocache.Cache
}

func NewNotionPages(ttl time.Duration) *NotionPages {
	exp := ttl
	cleanup := ttl
	if ttl <= 0 {
		exp = gocache.NoExpiration
		cleanup = 0
	}
	return &NotionPages{store: gocache.New(exp, cleanup)}
}

func (n *NotionPages) Get(pageID string) (string, bool) {
	v, ok := n.store.Get(canonicalPageKey(pageID))
	if !ok {
		return "", false
	}
	md, ok := v.(string)
	return md, ok && md != ""
}

func (n *NotionPages) Set(pageID, markdown string) {
	key := canonicalPageKey(pageID)
	if key == "" {
		return
	}
	n.store.Set(key, markdown, gocache.DefaultExpiration)
}

func (n *NotionPages) Len() int {
	return n.store.ItemCount()
}

// canonicalPageKey accepts dashed or undashed 32-hex ids.
func canonicalPageKey(id string) string {
	raw := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
	if len(raw) != 32 {
		return strings.TrimSpace(id)
	}
	return raw[0:8] + "-" + raw[8:12] + "-" + raw[12:16] + "-" + raw[16:20] + "-" + raw[20:32]
}
