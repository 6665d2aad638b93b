package cdp

import (
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/tabtalk/internal/types"
)

// TabRegistry maps CDP target IDs to the last URL seen for each watched tab.
type TabRegistry struct {
	tabs map[target.ID]*types.TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*types.TabInfo)}
}

// Register records or updates a tab. Navigation events re-register with the
// new URL, keeping the title unless a new one is given.
func (r *TabRegistry) Register(targetID target.ID, url, title string) *types.TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.tabs[targetID]
	if !ok {
		info = &types.TabInfo{TargetID: string(targetID)}
	}
	next := *info
	next.URL = url
	if title != "" {
		next.Title = title
	}
	r.tabs[targetID] = &next
	return &next
}

func (r *TabRegistry) Get(targetID target.ID) (*types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	return info, ok
}

func (r *TabRegistry) GetByStringID(tabID string) (*types.TabInfo, bool) {
	return r.Get(target.ID(tabID))
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
