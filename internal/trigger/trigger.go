// Package trigger arms the precise path: a one-shot invocation of the
// delivery executor aimed exactly at a group's due instant. Triggers are
// attempted-once; a lost trigger is covered by the backup sweep, so every
// implementation may drop work on host failure but must never duplicate the
// claim (claiming belongs to the due-index removal, not to triggers).
package trigger

import (
	"context"
	"time"
)

// Handler is invoked with a group id when its trigger fires.
type Handler func(ctx context.Context, groupID string) error

// Trigger registers a one-shot job to fire at or after runAt.
type Trigger interface {
	Register(ctx context.Context, name string, runAt time.Time, groupID string) error
}

// Nop discards registrations; used for dry runs and tests where only the
// due index matters.
type Nop struct{}

func (Nop) Register(context.Context, string, time.Time, string) error { return nil }
