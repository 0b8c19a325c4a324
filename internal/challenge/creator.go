// Package challenge holds the daily creation gate: at most one net new game
// post per UTC calendar day, under concurrent triggers and platform retries.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wordmint/internal/domain"
	"wordmint/internal/events"
	"wordmint/internal/notify"
	"wordmint/internal/platform"
	"wordmint/internal/store"
)

// DefaultReserveTTL bounds how long a crashed creation attempt blocks the
// day before a retry can proceed.
const DefaultReserveTTL = 10 * time.Minute

// WordSource picks the secret word for a challenge number.
type WordSource interface {
	Pick(ctx context.Context, number int64) (string, error)
}

// Notifier schedules the reminder run for a freshly created challenge.
type Notifier interface {
	Enqueue(ctx context.Context, ev notify.Event, usernames []string) (notify.Result, error)
}

// Overrides relax the daily gate for operator-driven re-creation. Actor is
// recorded on the challenge; empty means an unattributed trigger.
type Overrides struct {
	Force             bool   `json:"force,omitempty"`
	IgnoreDailyWindow bool   `json:"ignore_daily_window,omitempty"`
	Actor             string `json:"-"`
}

func (o Overrides) any() bool { return o.Force || o.IgnoreDailyWindow }

// EnsureResult is the terminal status of a creation attempt. All three
// statuses are successes from the caller's perspective; retrying is always
// safe.
type EnsureResult struct {
	Status          domain.EnsureStatus `json:"status" enum:"created,exists,skipped"`
	ChallengeNumber int64               `json:"challenge_number,omitempty"`
	PostReference   string              `json:"post_reference,omitempty"`
}

// Creator mints daily challenges. All coordination state lives in the
// store; Creator itself carries no mutable state and is safe for concurrent
// use.
type Creator struct {
	Store      *store.Store
	Poster     platform.Poster
	Words      WordSource
	Notifier   Notifier
	Events     events.Writer
	ReserveTTL time.Duration
	Now        func() time.Time
	Log        *zap.Logger
}

func (c *Creator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Creator) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

// EnsureDaily creates today's challenge if it does not exist yet. Exactly
// one concurrent caller observes "created"; the rest observe "exists" or
// "skipped" without creating a post or enqueueing notifications. The marker
// and challenge records are written only after the post is confirmed, so a
// failure never leaves a partially committed day.
func (c *Creator) EnsureDaily(ctx context.Context, ov Overrides) (EnsureResult, error) {
	now := c.now().UTC()
	day := now.Format("2006-01-02")

	if !ov.any() {
		marker, err := c.Store.GetDailyMarker(ctx, day)
		if err == nil {
			return EnsureResult{
				Status:          domain.EnsureExists,
				ChallengeNumber: marker.ChallengeNumber,
				PostReference:   marker.PostReference,
			}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return EnsureResult{}, err
		}

		ttl := c.ReserveTTL
		if ttl <= 0 {
			ttl = DefaultReserveTTL
		}
		reserved, err := c.Store.ReserveDay(ctx, day, ttl)
		if err != nil {
			return EnsureResult{}, err
		}
		if !reserved {
			// Someone else is creating right now. Not an error: the other
			// caller's marker becomes the day's truth.
			return EnsureResult{Status: domain.EnsureSkipped}, nil
		}
	}

	number, err := c.Store.NextChallengeNumber(ctx)
	if err != nil {
		c.release(ctx, day, ov)
		return EnsureResult{}, err
	}
	word, err := c.Words.Pick(ctx, number)
	if err != nil {
		c.release(ctx, day, ov)
		return EnsureResult{}, fmt.Errorf("pick word for challenge %d: %w", number, err)
	}

	post, err := c.Poster.CreatePost(ctx, fmt.Sprintf("Wordmint #%d — find today's word", number))
	if err != nil {
		// A partially created post is rolled back best-effort before the
		// failure propagates for the operator's retry.
		if post.Reference != "" {
			if delErr := c.Poster.DeletePost(ctx, post.Reference); delErr != nil {
				c.log().Error("rollback of partial post failed",
					zap.String("post_reference", post.Reference), zap.Error(delErr))
			}
		}
		c.release(ctx, day, ov)
		return EnsureResult{}, fmt.Errorf("create post for challenge %d: %w", number, err)
	}

	createdBy := ov.Actor
	if createdBy == "" {
		createdBy = "daily-gate"
	}
	record := domain.Challenge{
		Number:        number,
		Word:          word,
		PostReference: post.Reference,
		CreatedAt:     now.Format(time.RFC3339),
		CreatedBy:     createdBy,
	}
	if err := c.Store.PutChallenge(ctx, record); err != nil {
		c.rollbackPost(ctx, post.Reference)
		c.release(ctx, day, ov)
		return EnsureResult{}, err
	}
	marker := domain.DailyMarker{
		ChallengeNumber: number,
		PostReference:   post.Reference,
		CreatedAt:       now.Format(time.RFC3339),
	}
	if err := c.Store.PutDailyMarker(ctx, day, marker); err != nil {
		c.rollbackPost(ctx, post.Reference)
		c.release(ctx, day, ov)
		return EnsureResult{}, err
	}
	// The reservation stays until its TTL: releasing it early would let a
	// caller that read "no marker" before our write reserve and mint a
	// duplicate.

	if err := c.Events.Append(ctx, "challenge.created", events.EventPayload{
		"number": number, "post_reference": post.Reference, "day": day,
	}); err != nil {
		c.log().Debug("audit append failed", zap.Error(err))
	}

	c.scheduleReminders(ctx, number, post)

	return EnsureResult{
		Status:          domain.EnsureCreated,
		ChallengeNumber: number,
		PostReference:   post.Reference,
	}, nil
}

// scheduleReminders enqueues the notification run for a created challenge.
// Failures here are logged, not propagated: the challenge exists and a
// retried creation must not mint a second one just to re-send reminders.
func (c *Creator) scheduleReminders(ctx context.Context, number int64, post platform.Post) {
	usernames, err := c.Store.OptedIn(ctx)
	if err != nil {
		c.log().Error("listing opted-in users failed, reminders not scheduled",
			zap.Int64("challenge", number), zap.Error(err))
		return
	}
	if len(usernames) == 0 {
		return
	}
	result, err := c.Notifier.Enqueue(ctx, notify.Event{
		Type:            "daily-challenge",
		ChallengeNumber: number,
		Title:           fmt.Sprintf("Wordmint #%d is live", number),
		Body:            "A new word is waiting. Can you find it?",
		Link:            post.URL,
	}, usernames)
	if err != nil {
		c.log().Error("scheduling reminders failed",
			zap.Int64("challenge", number), zap.Error(err))
		return
	}
	c.log().Info("reminders scheduled",
		zap.Int64("challenge", number),
		zap.Int("groups", len(result.Groups)),
		zap.Int("recipients", result.TotalRecipients))
}

func (c *Creator) rollbackPost(ctx context.Context, reference string) {
	if err := c.Poster.DeletePost(ctx, reference); err != nil {
		c.log().Error("rollback of created post failed",
			zap.String("post_reference", reference), zap.Error(err))
	}
}

// release frees the day reservation after a failed attempt so a retry can
// proceed without waiting out the TTL. Override runs never held one.
func (c *Creator) release(ctx context.Context, day string, ov Overrides) {
	if ov.any() {
		return
	}
	if err := c.Store.ReleaseDay(ctx, day); err != nil {
		c.log().Warn("releasing day reservation failed", zap.String("day", day), zap.Error(err))
	}
}
