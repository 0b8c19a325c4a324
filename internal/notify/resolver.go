package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wordmint/internal/platform"
)

// DefaultResolveLimit bounds how many directory lookups run in flight.
const DefaultResolveLimit = 1000

// Resolved is one opted-in user with a stable account id and a usable zone.
type Resolved struct {
	Username  string
	AccountID string
	Zone      string
}

// Resolver fans out account-id and timezone lookups for opted-in usernames.
// Lookup failures are treated as "missing" for this run; the next scheduling
// run retries naturally. A user without an account id is dropped entirely; a
// user without a timezone gets the fallback zone.
type Resolver struct {
	Dir          platform.Directory
	FallbackZone string
	Limit        int
	Log          *zap.Logger
}

// Resolve returns the subset of usernames that resolved to an account id,
// in input order.
func (r *Resolver) Resolve(ctx context.Context, usernames []string) []Resolved {
	limit := r.Limit
	if limit <= 0 {
		limit = DefaultResolveLimit
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	results := make([]Resolved, len(usernames))
	var mu sync.Mutex
	dropped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, username := range usernames {
		g.Go(func() error {
			accountID, ok, err := r.Dir.AccountID(gctx, username)
			if err != nil {
				log.Debug("account lookup failed, dropping user",
					zap.String("username", username), zap.Error(err))
			}
			if err != nil || !ok {
				mu.Lock()
				dropped++
				mu.Unlock()
				return nil
			}
			zone, ok, err := r.Dir.Timezone(gctx, username)
			if err != nil {
				log.Debug("timezone lookup failed, using fallback",
					zap.String("username", username), zap.Error(err))
			}
			if err != nil || !ok || zone == "" {
				zone = r.FallbackZone
			}
			results[i] = Resolved{Username: username, AccountID: accountID, Zone: zone}
			return nil
		})
	}
	// Workers never return errors; Wait only syncs completion.
	_ = g.Wait()

	out := make([]Resolved, 0, len(usernames)-dropped)
	for _, res := range results {
		if res.AccountID != "" {
			out = append(out, res)
		}
	}
	if dropped > 0 {
		log.Info("dropped unresolved users from scheduling run", zap.Int("count", dropped))
	}
	return out
}
