package notify

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wordmint/internal/clock"
	"wordmint/internal/domain"
	"wordmint/internal/events"
	"wordmint/internal/store"
	"wordmint/internal/trigger"
)

// offsetLabelRe guards the bucket key against zone math silently producing
// garbage labels.
var offsetLabelRe = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)

// Event carries the type-specific parameters shared by every group of one
// scheduling run.
type Event struct {
	Type            string
	ChallengeNumber int64
	Title           string
	Body            string
	Link            string
}

// GroupSummary describes one scheduled (or previewed) group.
type GroupSummary struct {
	ID          string `json:"id,omitempty"`
	OffsetLabel string `json:"offset_label"`
	DueAt       string `json:"due_at" format:"date-time"`
	DueAtMs     int64  `json:"due_at_ms"`
	Recipients  int    `json:"recipients"`
}

// Result is the outcome of one scheduling run.
type Result struct {
	Groups          []GroupSummary `json:"groups"`
	TotalRecipients int            `json:"total_recipients"`
}

// Scheduler groups resolved recipients by the UTC offset in effect at their
// due instant and persists one notification group per bucket.
type Scheduler struct {
	Store        *store.Store
	Resolver     *Resolver
	Trigger      trigger.Trigger
	Events       events.Writer
	TargetHour   int
	TargetMinute int
	Now          func() time.Time
	Log          *zap.Logger
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Enqueue resolves, coalesces, and persists notification groups, arming a
// precise trigger per group. Persistence failures for one bucket never block
// the others.
func (s *Scheduler) Enqueue(ctx context.Context, ev Event, usernames []string) (Result, error) {
	return s.run(ctx, ev, usernames, false)
}

// DryRun computes the grouping without persisting anything or arming any
// trigger; used for operational previews.
func (s *Scheduler) DryRun(ctx context.Context, ev Event, usernames []string) (Result, error) {
	return s.run(ctx, ev, usernames, true)
}

type bucketKey struct {
	label   string
	dueAtMs int64
}

func (s *Scheduler) run(ctx context.Context, ev Event, usernames []string, dryRun bool) (Result, error) {
	resolved := s.Resolver.Resolve(ctx, usernames)
	now := s.now()
	log := s.log()

	// Coalesce by (offset label, due instant), not by raw zone id: many zone
	// ids share one civil offset at a given instant, and one batch per
	// offset bucket keeps the job count minimal.
	buckets := make(map[bucketKey][]domain.Recipient)
	for _, user := range resolved {
		zone := user.Zone
		due, err := clock.NextLocalInstant(now, zone, s.TargetHour, s.TargetMinute)
		if err != nil {
			zone = s.Resolver.FallbackZone
			due, err = clock.NextLocalInstant(now, zone, s.TargetHour, s.TargetMinute)
			if err != nil {
				return Result{}, validationErrorf("next local instant for zone %s: %v", zone, err)
			}
			log.Warn("unusable timezone, fell back",
				zap.String("username", user.Username), zap.String("zone", user.Zone))
		}
		label, err := clock.OffsetLabelAt(zone, due)
		if err != nil {
			return Result{}, validationErrorf("offset label for zone %s: %v", zone, err)
		}
		if !offsetLabelRe.MatchString(label) {
			return Result{}, validationErrorf("malformed offset label %q for zone %s", label, zone)
		}
		key := bucketKey{label: label, dueAtMs: due.UnixMilli()}
		buckets[key] = append(buckets[key], domain.Recipient{
			AccountID: user.AccountID,
			Username:  user.Username,
			Zone:      user.Zone,
		})
	}

	keys := make([]bucketKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dueAtMs != keys[j].dueAtMs {
			return keys[i].dueAtMs < keys[j].dueAtMs
		}
		return keys[i].label < keys[j].label
	})

	result := Result{Groups: make([]GroupSummary, 0, len(keys))}
	for _, key := range keys {
		recipients := buckets[key]
		summary := GroupSummary{
			OffsetLabel: key.label,
			DueAt:       time.UnixMilli(key.dueAtMs).UTC().Format(time.RFC3339),
			DueAtMs:     key.dueAtMs,
			Recipients:  len(recipients),
		}
		if dryRun {
			result.Groups = append(result.Groups, summary)
			result.TotalRecipients += len(recipients)
			continue
		}

		group := domain.NotificationGroup{
			Version:     domain.GroupPayloadVersion,
			ID:          uuid.NewString(),
			Type:        ev.Type,
			Title:       ev.Title,
			Body:        ev.Body,
			Link:        ev.Link,
			OffsetLabel: key.label,
			DueAtMs:     key.dueAtMs,
			Recipients:  recipients,
		}
		if err := s.Store.PutGroup(ctx, group); err != nil {
			log.Error("persist group failed, skipping bucket",
				zap.String("offset", key.label), zap.Error(err))
			continue
		}
		if err := s.Store.EnqueuePending(ctx, group.ID, group.DueAtMs); err != nil {
			log.Error("index group failed, skipping bucket",
				zap.String("group_id", group.ID), zap.Error(err))
			continue
		}
		// The due-index entry stands on its own: if arming fails, the backup
		// sweep still finds the group.
		if err := s.Trigger.Register(ctx, "notify-send-"+group.ID, time.UnixMilli(group.DueAtMs), group.ID); err != nil {
			log.Warn("arming precise trigger failed, sweep will cover",
				zap.String("group_id", group.ID), zap.Error(err))
		}
		if err := s.Events.Append(ctx, "notif.enqueued", events.EventPayload{
			"group_id":   group.ID,
			"type":       group.Type,
			"offset":     group.OffsetLabel,
			"due_at_ms":  group.DueAtMs,
			"recipients": len(recipients),
		}); err != nil {
			log.Debug("audit append failed", zap.Error(err))
		}

		summary.ID = group.ID
		result.Groups = append(result.Groups, summary)
		result.TotalRecipients += len(recipients)
	}
	return result, nil
}
