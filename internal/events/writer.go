// Package events appends operational audit entries (challenge minted, group
// enqueued, group sent or re-queued) to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"wordmint/internal/store"
)

type Writer struct {
	Store *store.Store
	Now   func() time.Time
}

type EventPayload map[string]any

// Append records one audit event. Callers treat failures as best-effort:
// an audit miss never fails the operation being audited.
func (w Writer) Append(ctx context.Context, evtType string, payload EventPayload) error {
	if w.Store == nil {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.Store.Audit(ctx, map[string]any{
		"ts":      now().UTC().Format(time.RFC3339),
		"type":    evtType,
		"payload": string(data),
	})
}
