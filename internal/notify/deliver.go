package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wordmint/internal/domain"
	"wordmint/internal/events"
	"wordmint/internal/platform"
	"wordmint/internal/store"
)

// DefaultBatchSize is how many recipients go to the push service per call.
const DefaultBatchSize = 100

// SendResult reports a delivery attempt. OK false with a reason is a
// designed outcome, not a failure.
type SendResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Sent   int    `json:"sent,omitempty"`
}

// Deliverer sends claimed notification groups in checkpointed batches.
type Deliverer struct {
	Store     *store.Store
	Pusher    platform.Pusher
	Events    events.Writer
	BatchSize int
	Log       *zap.Logger
}

func (d *Deliverer) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

// SendNow claims and delivers one group. The atomic removal from the due
// index is the entire concurrency-safety mechanism: a precise trigger and a
// backup sweep can race here and exactly one caller proceeds. Progress is
// checkpointed after each accepted batch and before the next send, so a
// crash re-sends at most one in-flight batch, never the whole group.
func (d *Deliverer) SendNow(ctx context.Context, groupID string) (SendResult, error) {
	claimed, err := d.Store.ClaimPending(ctx, groupID)
	if err != nil {
		return SendResult{}, err
	}
	if !claimed {
		return SendResult{OK: false, Reason: domain.SendReasonAlreadyClaimed}, nil
	}

	group, err := d.Store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		// Already completed and garbage-collected.
		return SendResult{OK: false, Reason: domain.SendReasonMissing}, nil
	}
	if err != nil {
		return SendResult{}, err
	}
	if len(group.Recipients) == 0 {
		d.cleanup(ctx, groupID)
		return SendResult{OK: false, Reason: domain.SendReasonEmpty}, nil
	}

	start, err := d.Store.GetProgress(ctx, groupID)
	if err != nil {
		return SendResult{}, err
	}
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for i := start; i < len(group.Recipients); i += batchSize {
		end := i + batchSize
		if end > len(group.Recipients) {
			end = len(group.Recipients)
		}
		items := make([]platform.PushItem, 0, end-i)
		for _, r := range group.Recipients[i:end] {
			items = append(items, platform.PushItem{
				AccountID: r.AccountID,
				Title:     group.Title,
				Body:      group.Body,
				Link:      group.Link,
				Data:      r.Data,
			})
		}
		if err := d.Pusher.EnqueueBatch(ctx, items); err != nil {
			// Re-queue at the original due instant, not "now": the audit
			// trail must keep reporting how late this group actually is.
			if reqErr := d.Store.EnqueuePending(ctx, groupID, group.DueAtMs); reqErr != nil {
				d.log().Error("re-queue after push failure failed",
					zap.String("group_id", groupID), zap.Error(reqErr))
			}
			d.audit(ctx, "group.requeued", events.EventPayload{
				"group_id": groupID, "next_unsent": i, "error": err.Error(),
			})
			return SendResult{}, fmt.Errorf("push batch %d..%d of group %s: %w", i, end, groupID, err)
		}
		if err := d.Store.SetProgress(ctx, groupID, end); err != nil {
			// The batch was accepted; a lost checkpoint only widens the
			// re-send window by one batch.
			d.log().Warn("checkpoint write failed",
				zap.String("group_id", groupID), zap.Int("next_unsent", end), zap.Error(err))
		}
	}

	d.cleanup(ctx, groupID)
	d.audit(ctx, "group.sent", events.EventPayload{
		"group_id":   groupID,
		"type":       group.Type,
		"offset":     group.OffsetLabel,
		"due_at_ms":  group.DueAtMs,
		"recipients": len(group.Recipients) - start,
	})
	return SendResult{OK: true, Sent: len(group.Recipients) - start}, nil
}

func (d *Deliverer) cleanup(ctx context.Context, groupID string) {
	if err := d.Store.ClearProgress(ctx, groupID); err != nil {
		d.log().Warn("clear progress failed", zap.String("group_id", groupID), zap.Error(err))
	}
	if err := d.Store.DeleteGroup(ctx, groupID); err != nil {
		d.log().Warn("delete group payload failed", zap.String("group_id", groupID), zap.Error(err))
	}
}

func (d *Deliverer) audit(ctx context.Context, evtType string, payload events.EventPayload) {
	if err := d.Events.Append(ctx, evtType, payload); err != nil {
		d.log().Debug("audit append failed", zap.Error(err))
	}
}

// HandleTrigger adapts SendNow to the trigger handler contract. An
// already-claimed group is a normal trigger outcome, not an error.
func (d *Deliverer) HandleTrigger(ctx context.Context, groupID string) error {
	res, err := d.SendNow(ctx, groupID)
	if err != nil {
		return err
	}
	if !res.OK {
		d.log().Debug("trigger fired on settled group",
			zap.String("group_id", groupID), zap.String("reason", res.Reason))
	}
	return nil
}
