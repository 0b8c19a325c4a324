package notify

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueCoalescesZonesSharingAnOffset(t *testing.T) {
	// Etc/UTC and Europe/London are distinct zone ids with the same civil
	// offset in January; one group, one due instant.
	dir := &fakeDirectory{
		accounts: map[string]string{"ada": "a1", "brian": "a2"},
		zones:    map[string]string{"ada": "Etc/UTC", "brian": "Europe/London"},
	}
	st := newTestStore(t)
	sched, trig := newTestScheduler(t, st, dir)

	res, err := sched.Enqueue(context.Background(), Event{Type: "daily-challenge"}, []string{"ada", "brian"})
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, "+00:00", res.Groups[0].OffsetLabel)
	assert.Equal(t, 2, res.Groups[0].Recipients)
	assert.Equal(t,
		time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC).UnixMilli(),
		res.Groups[0].DueAtMs)
	assert.Len(t, trig.jobs, 1)
}

func TestEnqueuePartitionsRecipientsExactlyOnce(t *testing.T) {
	dir := &fakeDirectory{
		accounts: map[string]string{
			"ada": "a1", "brian": "a2", "chen": "a3", "dara": "a4", "ghost": "",
		},
		zones: map[string]string{
			"ada":   "Etc/UTC",
			"brian": "Europe/London",
			"chen":  "Asia/Kolkata",
			"dara":  "America/New_York",
		},
	}
	delete(dir.accounts, "ghost")
	st := newTestStore(t)
	sched, _ := newTestScheduler(t, st, dir)

	res, err := sched.Enqueue(context.Background(), Event{Type: "daily-challenge"},
		[]string{"ada", "brian", "chen", "dara", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalRecipients)

	// Union of group recipient lists equals the resolved set, once each.
	seen := map[string]int{}
	for _, g := range res.Groups {
		group, err := st.GetGroup(context.Background(), g.ID)
		require.NoError(t, err)
		assert.Equal(t, g.DueAtMs, group.DueAtMs)
		for _, r := range group.Recipients {
			seen[r.Username]++
		}
	}
	usernames := make([]string, 0, len(seen))
	for u, n := range seen {
		assert.Equal(t, 1, n, "recipient %s appears %d times", u, n)
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)
	assert.Equal(t, []string{"ada", "brian", "chen", "dara"}, usernames)
}

func TestDryRunPersistsNothing(t *testing.T) {
	dir := &fakeDirectory{
		accounts: map[string]string{"ada": "a1"},
		zones:    map[string]string{"ada": "Etc/UTC"},
	}
	st := newTestStore(t)
	sched, trig := newTestScheduler(t, st, dir)

	res, err := sched.DryRun(context.Background(), Event{Type: "daily-challenge"}, []string{"ada"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Empty(t, res.Groups[0].ID)

	ids, err := st.DuePending(context.Background(), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 100)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, trig.jobs)
}

func TestEnqueueUsesFallbackZoneForGarbageZones(t *testing.T) {
	dir := &fakeDirectory{
		accounts: map[string]string{"ada": "a1"},
		zones:    map[string]string{"ada": "Nowhere/Land"},
	}
	st := newTestStore(t)
	sched, _ := newTestScheduler(t, st, dir)

	res, err := sched.Enqueue(context.Background(), Event{Type: "daily-challenge"}, []string{"ada"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	// America/New_York in January.
	assert.Equal(t, "-05:00", res.Groups[0].OffsetLabel)
}
