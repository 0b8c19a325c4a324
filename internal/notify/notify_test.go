package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wordmint/internal/events"
	"wordmint/internal/platform"
	"wordmint/internal/store"
)

// fakeDirectory serves account-id and timezone lookups from maps; a missing
// key means "never set".
type fakeDirectory struct {
	accounts map[string]string
	zones    map[string]string
	failFor  map[string]error
}

func (d *fakeDirectory) AccountID(_ context.Context, username string) (string, bool, error) {
	if err, ok := d.failFor[username]; ok {
		return "", false, err
	}
	id, ok := d.accounts[username]
	return id, ok, nil
}

func (d *fakeDirectory) Timezone(_ context.Context, username string) (string, bool, error) {
	zone, ok := d.zones[username]
	return zone, ok, nil
}

// fakePusher records batches and can fail a specific call number (1-based).
type fakePusher struct {
	mu      sync.Mutex
	batches [][]platform.PushItem
	calls   int
	failOn  int
}

func (p *fakePusher) EnqueueBatch(_ context.Context, items []platform.PushItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != 0 && p.calls == p.failOn {
		return errors.New("push service unavailable")
	}
	copied := make([]platform.PushItem, len(items))
	copy(copied, items)
	p.batches = append(p.batches, copied)
	return nil
}

func (p *fakePusher) sentAccountIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, batch := range p.batches {
		for _, item := range batch {
			ids = append(ids, item.AccountID)
		}
	}
	return ids
}

// recordingTrigger remembers registrations.
type recordingTrigger struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingTrigger) Register(_ context.Context, name string, _ time.Time, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, name)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewWithClient(rdb)
}

func newTestScheduler(t *testing.T, st *store.Store, dir *fakeDirectory) (*Scheduler, *recordingTrigger) {
	t.Helper()
	trig := &recordingTrigger{}
	sched := &Scheduler{
		Store:        st,
		Resolver:     &Resolver{Dir: dir, FallbackZone: "America/New_York", Limit: 8},
		Trigger:      trig,
		Events:       events.Writer{Store: st},
		TargetHour:   9,
		TargetMinute: 0,
		Now:          func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) },
		Log:          zap.NewNop(),
	}
	return sched, trig
}
