package notion

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ChunkEndpoints are the page-loading calls the Notion web app makes on its
// own while a page is open.
var ChunkEndpoints = []string{
	"/api/v3/loadCachedPageChunks",
	"/api/v3/loadCachedPageChunkV2",
}

// MergeChunk copies the blocks of a chunk response into acc and returns how
// many were added or replaced.
func MergeChunk(acc map[string]*Block, body []byte) (int, error) {
	var resp struct {
		RecordMap *RecordMap `json:"recordMap"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("notion: chunk: %w", err)
	}
	if resp.RecordMap == nil {
		return 0, nil
	}
	n := 0
	for id, b := range resp.RecordMap.Block {
		if b == nil || b.Value == nil {
			continue
		}
		acc[id] = b
		n++
	}
	return n, nil
}

// Accumulator keeps the blocks observed for each page across chunk
// responses. A page's blocks expire ttl after its last chunk.
type Accumulator struct {
	mu    sync.Mutex
	pages *gocache.Cache
}

// NewAccumulator falls back to a ten minute ttl when ttl is zero or less.
func NewAccumulator(ttl time.Duration) *Accumulator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Accumulator{pages: gocache.New(ttl, ttl)}
}

// Add merges body into the page's block set and re-renders it. It returns
// an empty string when the root block has not been observed yet.
func (a *Accumulator) Add(pageID string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	blocks, ok := a.blocks(pageID)
	if !ok {
		blocks = make(map[string]*Block)
	}
	if _, err := MergeChunk(blocks, body); err != nil {
		return "", err
	}
	a.pages.SetDefault(pageID, blocks)
	md, ok := Render(&RecordMap{Block: blocks}, pageID)
	if !ok {
		return "", nil
	}
	return md, nil
}

// Len counts tracked pages, including expired ones not yet cleaned up.
func (a *Accumulator) Len() int {
	return a.pages.ItemCount()
}

func (a *Accumulator) blocks(pageID string) (map[string]*Block, bool) {
	v, ok := a.pages.Get(pageID)
	if !ok {
		return nil, false
	}
	blocks, ok := v.(map[string]*Block)
	return blocks, ok
}
