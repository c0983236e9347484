package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts stage transitions to an external endpoint. Failures are
// reported to the caller for logging but never abort a cycle.
type Webhook struct {
	URL    string
	Client *http.Client
}

type webhookEvent struct {
	Event string `json:"event"`
	Phase string `json:"phase"`
	Cycle int    `json:"cycle"`
	Error string `json:"error,omitempty"`
	TS    int64  `json:"ts"`
}

func (w *Webhook) Post(event, phase string, cycle int, stageErr error) error {
	if w == nil || w.URL == "" {
		return nil
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	payload := webhookEvent{Event: event, Phase: phase, Cycle: cycle, TS: time.Now().UnixMilli()}
	if stageErr != nil {
		payload.Error = stageErr.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(w.URL, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
