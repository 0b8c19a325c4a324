package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Local fires triggers from in-process timers. Registrations do not survive
// a restart; the backup sweep picks up anything lost. Suited to development
// and single-instance deployments without a broker.
type Local struct {
	handler Handler
	root    context.Context
	log     *zap.Logger
}

// NewLocal builds a Local trigger whose timers stop when root is cancelled.
func NewLocal(root context.Context, handler Handler, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{handler: handler, root: root, log: log}
}

func (l *Local) Register(_ context.Context, name string, runAt time.Time, groupID string) error {
	timer := time.NewTimer(time.Until(runAt))
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := l.handler(l.root, groupID); err != nil {
				l.log.Warn("precise trigger handler failed; sweep will retry",
					zap.String("job", name), zap.String("group_id", groupID), zap.Error(err))
			}
		case <-l.root.Done():
		}
	}()
	return nil
}
