package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextLocalInstantSpringForward(t *testing.T) {
	// 2025-03-09 America/New_York jumps from -05:00 to -04:00. At base the
	// local clock reads 08:00 EDT, so local 09:00 is one hour away, not two.
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	got, err := NextLocalInstant(base, "America/New_York", 9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 9, 13, 0, 0, 0, time.UTC), got)
}

func TestNextLocalInstantFallBack(t *testing.T) {
	// 2025-11-02 is a 25-hour local day in New York. Advancing the calendar
	// date must still land on local 09:00, now at -05:00.
	base := time.Date(2025, 11, 2, 15, 0, 0, 0, time.UTC) // 10:00 EST
	got, err := NextLocalInstant(base, "America/New_York", 9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC), got)
	local := got.In(mustLoad(t, "America/New_York"))
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 0, local.Minute())
}

func TestNextLocalInstantAdvancesOnEqualWallTime(t *testing.T) {
	loc := mustLoad(t, "Europe/Paris")
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, loc)
	got, err := NextLocalInstant(base.UTC(), "Europe/Paris", 9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, loc).UTC(), got)
}

func TestNextLocalInstantCrossYear(t *testing.T) {
	loc := mustLoad(t, "Pacific/Auckland")
	base := time.Date(2025, 12, 31, 23, 30, 0, 0, loc).UTC()
	got, err := NextLocalInstant(base, "Pacific/Auckland", 9, 0)
	require.NoError(t, err)
	local := got.In(loc)
	assert.Equal(t, 2026, local.Year())
	assert.Equal(t, time.January, local.Month())
	assert.Equal(t, 1, local.Day())
	assert.Equal(t, 9, local.Hour())
}

func TestNextLocalInstantNeverBeforeBaseAndRoundTrips(t *testing.T) {
	zones := []string{
		"UTC",
		"America/New_York",
		"America/Los_Angeles",
		"Asia/Kolkata",       // +05:30
		"Asia/Kathmandu",     // +05:45
		"Pacific/Kiritimati", // +14:00
		"Pacific/Chatham",    // +12:45 / +13:45
		"Australia/Lord_Howe",
	}
	bases := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 9, 6, 59, 0, 0, time.UTC),
		time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 22, 45, 0, 0, time.UTC),
	}
	for _, zone := range zones {
		loc := mustLoad(t, zone)
		for _, base := range bases {
			got, err := NextLocalInstant(base, zone, 9, 0)
			require.NoError(t, err, "zone %s base %s", zone, base)
			assert.False(t, got.Before(base), "zone %s base %s got %s", zone, base, got)
			local := got.In(loc)
			assert.Equal(t, 9, local.Hour(), "zone %s base %s", zone, base)
			assert.Equal(t, 0, local.Minute(), "zone %s base %s", zone, base)
		}
	}
}

func TestNextLocalInstantRejectsBadInput(t *testing.T) {
	base := time.Now()
	_, err := NextLocalInstant(base, "Mars/Olympus_Mons", 9, 0)
	assert.Error(t, err)
	_, err = NextLocalInstant(base, "UTC", 24, 0)
	assert.Error(t, err)
	_, err = NextLocalInstant(base, "UTC", 9, 60)
	assert.Error(t, err)
}

func TestOffsetLabelAt(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		zone string
		want string
	}{
		{"UTC", "+00:00"},
		{"America/New_York", "-04:00"},
		{"Asia/Kolkata", "+05:30"},
		{"Asia/Kathmandu", "+05:45"},
		{"Pacific/Kiritimati", "+14:00"},
	}
	for _, tc := range cases {
		got, err := OffsetLabelAt(tc.zone, at)
		require.NoError(t, err, tc.zone)
		assert.Equal(t, tc.want, got, tc.zone)
	}
	// Same zone, different instant, different label across a DST boundary.
	winter, err := OffsetLabelAt("America/New_York", time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "-05:00", winter)
}

func mustLoad(t *testing.T, zone string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(zone)
	if err != nil {
		t.Fatalf("load %s: %v", zone, err)
	}
	return loc
}
