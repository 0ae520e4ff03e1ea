package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bborn/textline/internal/models"
	"github.com/bborn/textline/internal/session"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSessionBackend(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	store := session.New(database, session.WithClock(func() time.Time { return now }))

	entry, err := database.Load(ctx, "+15551234567", session.SlotBusQuery)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.SetBusQuery(ctx, "+15551234567", models.BusQuery{StopCode: "308209"}))
	require.NoError(t, store.SetBusQuery(ctx, "+15551234567", models.BusQuery{StopCode: "404040", Route: "M15"}))

	q, err := store.BusQuery(ctx, "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "404040", q.StopCode)
	assert.Equal(t, "M15", q.Route)

	now = now.Add(21 * time.Minute)
	q, err = store.BusQuery(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Nil(t, q)

	require.NoError(t, store.Clear(ctx, "+15551234567", session.SlotBusQuery))
	entry, err = database.Load(ctx, "+15551234567", session.SlotBusQuery)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPurgeExpiredSessions(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	old := session.Entry{Data: []byte(`{}`), StoredAt: now.Add(-time.Hour)}
	fresh := session.Entry{Data: []byte(`{}`), StoredAt: now.Add(-time.Minute)}

	require.NoError(t, database.Save(ctx, "+1", session.SlotPendingRide, old))
	require.NoError(t, database.Save(ctx, "+1", session.SlotPendingAuth, fresh))
	require.NoError(t, database.Save(ctx, "+1", session.SlotActiveRide, old))
	require.NoError(t, database.Save(ctx, "+2", session.SlotBusQuery, old))

	purged, err := database.PurgeExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	entry, err := database.Load(ctx, "+1", session.SlotActiveRide)
	require.NoError(t, err)
	assert.NotNil(t, entry)
	entry, err = database.Load(ctx, "+1", session.SlotPendingAuth)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestCalories(t *testing.T) {
	ctx := context.Background()
	cal := newTestDB(t).Calories(2000)

	d, err := cal.Day(ctx, "+1", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Total)
	assert.Equal(t, 2000, d.Target)

	d, err = cal.Add(ctx, "+1", "2026-03-14", 450)
	require.NoError(t, err)
	assert.Equal(t, 450, d.Total)

	d, err = cal.Add(ctx, "+1", "2026-03-14", 300)
	require.NoError(t, err)
	assert.Equal(t, 750, d.Total)
	assert.Equal(t, 1250, d.Remaining())

	other, err := cal.Day(ctx, "+2", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Total)
}

func TestCaloriesSubtractFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	cal := newTestDB(t).Calories(2000)

	_, err := cal.Add(ctx, "+1", "2026-03-14", 100)
	require.NoError(t, err)

	d, err := cal.Subtract(ctx, "+1", "2026-03-14", 250)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Total)
}

func TestCaloriesReset(t *testing.T) {
	ctx := context.Background()
	cal := newTestDB(t).Calories(2000)

	_, err := cal.Add(ctx, "+1", "2026-03-14", 1234)
	require.NoError(t, err)

	previous, err := cal.Reset(ctx, "+1", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 1234, previous)

	d, err := cal.Day(ctx, "+1", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Total)

	previous, err = cal.Reset(ctx, "+1", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 0, previous)
}

func TestCaloriesTargetCarriesToNextDay(t *testing.T) {
	ctx := context.Background()
	cal := newTestDB(t).Calories(2000)

	d, err := cal.SetTarget(ctx, "+1", "2026-03-14", 1800)
	require.NoError(t, err)
	assert.Equal(t, 1800, d.Target)

	d, err = cal.Day(ctx, "+1", "2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, 1800, d.Target)
	assert.Equal(t, 0, d.Total)
}
