package notion

import (
	"net/url"
	"regexp"
	"strings"
)

var hexID = regexp.MustCompile(`^([0-9a-fA-F]{8})([0-9a-fA-F]{4})([0-9a-fA-F]{4})([0-9a-fA-F]{4})([0-9a-fA-F]{12})$`)

// PageIDFromURL derives the dashed page id from the trailing path segment,
// e.g. /Team-Notes-0123456789abcdef0123456789abcdef.
func PageIDFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	segs := strings.Split(u.Path, "/")
	token := segs[len(segs)-1]
	parts := strings.Split(token, "-")
	id := CanonicalID(parts[len(parts)-1])
	if len(id) != 36 {
		return "", false
	}
	return id, true
}

// CanonicalID formats a 32-hex id as 8-4-4-4-12. Dashed ids and anything
// else are returned unchanged.
func CanonicalID(id string) string {
	return hexID.ReplaceAllString(id, "$1-$2-$3-$4-$5")
}

func undashed(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
