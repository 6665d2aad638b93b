package types

// TabInfo holds metadata about a browser tab for routing captured traffic.
type TabInfo struct {
	TargetID string
	URL      string
	Title    string
}

// TabInfoProvider looks up tab information by target id.
// It keeps the capture package free of a dependency on the cdp watcher.
type TabInfoProvider interface {
	GetByStringID(tabID string) (*TabInfo, bool)
}
