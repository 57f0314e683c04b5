package notifications

// Webhook delivers alerting payloads via HTTP POST with optional basic auth.
type Webhook struct {
	URL      string
	Username string
	Password string
	Verify   bool
}

// ReplicationFailure is sent when a volume's replication run aborts: a
// TRANSFERRING failure, an exhausted divergence fallback, or a fatal
// cluster/connect error for that volume.
type ReplicationFailure struct {
	Pool       string `json:"pool"`
	Volume     string `json:"volume"`
	State      string `json:"state"`
	BaseSnap   string `json:"base_snapshot,omitempty"`
	NewSnap    string `json:"new_snapshot,omitempty"`
	Message    string `json:"message"`
	RunID      string `json:"run_id"`
}

// PruneFailure is sent when RetentionPlanner fails to destroy a snapshot
// marked for trash (for example because it is still protected).
type PruneFailure struct {
	Pool     string `json:"pool"`
	Volume   string `json:"volume"`
	Snapshot string `json:"snapshot"`
	Message  string `json:"message"`
	RunID    string `json:"run_id"`
}
