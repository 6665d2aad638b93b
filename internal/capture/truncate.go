package capture

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgnsrekt/tabtalk/internal/types"
)

// clip stores body on resp, cutting it to maxBytes. A cut body keeps the
// full size and digest so a sink can tell it is incomplete.
func clip(resp *types.InterceptedResponse, body []byte, maxBytes int) bool {
	resp.Body = body
	if maxBytes <= 0 || len(body) <= maxBytes {
		return false
	}
	sum := sha256.Sum256(body)
	resp.Body = body[:maxBytes]
	resp.Truncated = true
	resp.OriginalSize = len(body)
	resp.SHA256 = hex.EncodeToString(sum[:])
	return true
}
