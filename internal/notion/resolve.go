package notion

import (
	"context"
	"log/slog"
)

// maxExtraRounds bounds how many times missing children are re-fetched
// after the first getRecordValues call.
const maxExtraRounds = 3

// API is the part of Client the resolver needs.
type API interface {
	LoadPageChunk(ctx context.Context, pageID string) (*RecordMap, error)
	GetRecordValues(ctx context.Context, ids []string) ([]*Block, error)
}

// Resolve loads the page chunk and then fetches child blocks that are
// referenced but absent. Only the initial load can fail the call.
func Resolve(ctx context.Context, api API, pageID string) (*RecordMap, error) {
	rm, err := api.LoadPageChunk(ctx, pageID)
	if err != nil {
		return nil, err
	}

	missing := findMissing(rm.Block, []string{pageID})
	if len(missing) == 0 {
		return rm, nil
	}
	if !fetchInto(ctx, api, rm, missing) {
		return rm, nil
	}

	for round := 0; round < maxExtraRounds; round++ {
		before := len(rm.Block)

		ids := make([]string, 0, len(rm.Block))
		for id := range rm.Block {
			ids = append(ids, id)
		}
		missing = findMissing(rm.Block, ids)
		if len(missing) == 0 {
			break
		}
		if !fetchInto(ctx, api, rm, missing) {
			break
		}
		if len(rm.Block) == before {
			break
		}
	}
	return rm, nil
}

func fetchInto(ctx context.Context, api API, rm *RecordMap, ids []string) bool {
	results, err := api.GetRecordValues(ctx, ids)
	if err != nil {
		slog.Warn("notion fetch missing blocks failed", "count", len(ids), "error", err)
		return false
	}
	merged := 0
	for _, b := range results {
		if b == nil || b.Value == nil || b.Value.ID == "" {
			continue
		}
		rm.Block[b.Value.ID] = b
		merged++
	}
	slog.Debug("notion fetched missing blocks", "requested", len(ids), "merged", merged)
	return true
}

// findMissing walks from each start id and returns child ids that are
// referenced but not present, in discovery order.
func findMissing(blocks map[string]*Block, starts []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, start := range starts {
		visited := make(map[string]bool)
		walkMissing(blocks, start, visited, seen, &out)
	}
	return out
}

func walkMissing(blocks map[string]*Block, id string, visited, seen map[string]bool, out *[]string) {
	b := blocks[id]
	if visited[id] || b == nil {
		return
	}
	visited[id] = true
	if b.Value == nil {
		return
	}
	for _, child := range b.Value.Content {
		if blocks[child] == nil {
			if !seen[child] {
				seen[child] = true
				*out = append(*out, child)
			}
			continue
		}
		walkMissing(blocks, child, visited, seen, out)
	}
}
