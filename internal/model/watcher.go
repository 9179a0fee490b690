package model

// Watcher is a watcher-index value: a dialog subscribed to a monitored URI.
// It carries no back-pointer to the record it came from.
type Watcher struct {
	DialogID string
	TenantID string
}
