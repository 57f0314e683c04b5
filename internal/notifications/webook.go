package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notify posts any JSON-serializable payload (ReplicationFailure,
// PruneFailure) to the configured webhook URL. A zero-value URL makes this
// a no-op so callers can wire an unconditional Webhook without a nil check.
func (w *Webhook) Notify(payload any) error {
	if w.URL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	client := http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.Username != "" || w.Password != "" {
		req.SetBasicAuth(w.Username, w.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification rejected: status %d", resp.StatusCode)
	}

	return nil
}
