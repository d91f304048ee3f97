package resolution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/resolvd/internal/logging"
)

// TestMain verifies the snapshot loop goroutine never outlives Shutdown.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestService(t *testing.T, dir string, clock *testClock) Service {
	t.Helper()

	cfg := DefaultConfig()
	cfg.StorageDir = dir
	// Keep the periodic ticker out of timing-sensitive tests.
	cfg.SnapshotInterval = time.Hour

	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}

	svc, err := NewService(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return svc
}

func TestServiceConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing storage dir", func(c *Config) { c.StorageDir = "" }},
		{"threshold above one", func(c *Config) { c.EffectivenessThreshold = 1.5 }},
		{"negative window", func(c *Config) { c.RecurrenceWindow = -time.Hour }},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StorageDir = t.TempDir()
			tt.mutate(cfg)

			_, err := NewService(cfg, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestServiceResolutionLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	svc := newTestService(t, t.TempDir(), clock)
	defer svc.Shutdown(ctx)

	rec, err := svc.MarkResolved(ctx, "E1", Resolution{
		Notes:       "fix A",
		FixType:     "CODE_FIX",
		DeveloperID: "d1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, 0, rec.RecurrenceCount)

	clock.Advance(time.Hour)
	recur, err := svc.TrackRecurrence(ctx, "E1", map[string]string{"build": "1422"})
	require.NoError(t, err)
	require.NotNil(t, recur)
	assert.Equal(t, 1, recur.RecurrenceCount)
	assert.Greater(t, recur.TimeSinceResolution, time.Duration(0))

	clock.Advance(time.Hour)
	rec, err = svc.ReResolve(ctx, "E1", Resolution{Notes: "fix A v2", FixType: "CODE_FIX"})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, 0, rec.RecurrenceCount)
	require.Len(t, rec.History, 3)
	assert.Equal(t, ActionReResolved, rec.History[2].Action)
}

func TestServiceReResolveUnknown(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)
	defer svc.Shutdown(ctx)

	_, err := svc.ReResolve(ctx, "never-seen", Resolution{Notes: "fix"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceTrackRecurrenceSoftMiss(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)
	defer svc.Shutdown(ctx)

	rec, err := svc.TrackRecurrence(ctx, "never-seen", nil)
	assert.NoError(t, err)
	assert.Nil(t, rec)

	status, err := svc.Status(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, status.HasResolution)
}

func TestServiceStatus(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	svc := newTestService(t, t.TempDir(), clock)
	defer svc.Shutdown(ctx)

	_, err := svc.MarkResolved(ctx, "E1", Resolution{
		Notes:   "fix A",
		FixType: "CODE_FIX",
	})
	require.NoError(t, err)

	clock.Advance(49 * time.Hour)
	status, err := svc.Status(ctx, "E1")
	require.NoError(t, err)

	assert.True(t, status.HasResolution)
	assert.Equal(t, StatusResolved, status.Status)
	assert.Equal(t, 2, status.DaysSinceResolution)
	assert.True(t, status.Effective)
	assert.Equal(t, 1.0, status.Score)
	assert.Equal(t, "fix A", status.Notes)
	assert.Len(t, status.History, 1)
}

func TestServiceStatusUnknownSignature(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)
	defer svc.Shutdown(ctx)

	status, err := svc.Status(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, status.HasResolution)
	assert.Equal(t, StatusUnresolved, status.Status)
}

func TestServiceStatusEmptySignature(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)
	defer svc.Shutdown(ctx)

	_, err := svc.Status(ctx, "")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestServiceSuggestFixes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)
	defer svc.Shutdown(ctx)

	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "validate input", FixType: "VALIDATION_FIX"})
	require.NoError(t, err)
	_, err = svc.MarkResolved(ctx, "E2", Resolution{Notes: "validate payload", FixType: "VALIDATION_FIX"})
	require.NoError(t, err)

	fixes, err := svc.SuggestFixes(ctx, "E1", nil)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, 2, fixes[0].ApplicationCount)
	assert.Equal(t, 1.0, fixes[0].SuccessRate)
	assert.Greater(t, fixes[0].Confidence, 0.9)
}

func TestServiceAggregate(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	svc := newTestService(t, t.TempDir(), clock)
	defer svc.Shutdown(ctx)

	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix", FixType: "CODE_FIX", DeveloperID: "d1"})
	require.NoError(t, err)
	_, err = svc.MarkResolved(ctx, "E2", Resolution{Notes: "fix", FixType: "CODE_FIX", DeveloperID: "d2"})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.TrackRecurrence(ctx, "E2", nil)
	require.NoError(t, err)

	report, err := svc.Aggregate(ctx, &AggregateFilter{FixType: "CODE_FIX"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalFixes)
	assert.Equal(t, 1, report.EffectiveFixes)
	assert.Equal(t, 0.5, report.EffectivenessRate)

	report, err = svc.Aggregate(ctx, &AggregateFilter{DeveloperID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalFixes)
}

func TestServiceDurability(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := newTestClock()

	svc := newTestService(t, dir, clock)
	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix A", FixType: "CODE_FIX"})
	require.NoError(t, err)
	_, err = svc.MarkResolved(ctx, "E2", Resolution{Notes: "fix B"})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = svc.TrackRecurrence(ctx, "E2", nil)
	require.NoError(t, err)

	require.NoError(t, svc.PersistToDisk(ctx))
	require.NoError(t, svc.Shutdown(ctx))

	// A fresh tracker on the same storage dir reconstructs the state.
	reborn := newTestService(t, dir, clock)
	defer reborn.Shutdown(ctx)

	status, err := reborn.Status(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, status.HasResolution)
	assert.Equal(t, StatusResolved, status.Status)
	assert.Equal(t, "fix A", status.Notes)
	assert.Equal(t, 0, status.RecurrenceCount)

	status, err = reborn.Status(ctx, "E2")
	require.NoError(t, err)
	assert.Equal(t, StatusRecurred, status.Status)
	assert.Equal(t, "fix B", status.Notes)
	assert.Equal(t, 1, status.RecurrenceCount)
}

func TestServiceShutdownFlushes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	svc := newTestService(t, dir, nil)
	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix"})
	require.NoError(t, err)

	// No explicit persist: the shutdown flush alone must be durable.
	require.NoError(t, svc.Shutdown(ctx))

	reborn := newTestService(t, dir, nil)
	defer reborn.Shutdown(ctx)

	status, err := reborn.Status(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, status.HasResolution)
}

func TestServiceCleanup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := newTestClock()

	svc := newTestService(t, dir, clock)
	defer svc.Shutdown(ctx)

	_, err := svc.MarkResolved(ctx, "old", Resolution{Notes: "fix"})
	require.NoError(t, err)

	clock.Advance(100 * 24 * time.Hour)
	_, err = svc.MarkResolved(ctx, "fresh", Resolution{Notes: "fix"})
	require.NoError(t, err)

	removed, err := svc.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	status, err := svc.Status(ctx, "old")
	require.NoError(t, err)
	assert.False(t, status.HasResolution)

	status, err = svc.Status(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, status.HasResolution)

	// Removal is permanent: a restart must not resurrect the record.
	require.NoError(t, svc.Shutdown(ctx))
	reborn := newTestService(t, dir, clock)
	defer reborn.Shutdown(ctx)

	status, err = reborn.Status(ctx, "old")
	require.NoError(t, err)
	assert.False(t, status.HasResolution)
}

func TestServiceShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, t.TempDir(), nil)

	require.NoError(t, svc.Shutdown(ctx))
	require.NoError(t, svc.Shutdown(ctx))

	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServiceShutdownImmediatelyAfterConstruction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()

	svc, err := NewService(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceStartsEmptyOnCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCorruptSnapshot(t, dir)

	// A corrupt snapshot must not fail startup.
	cfg := DefaultConfig()
	cfg.StorageDir = dir
	cfg.SnapshotInterval = time.Hour
	logger, logs := logging.NewTestLogger()
	svc, err := NewService(cfg, logger)
	require.NoError(t, err)
	defer svc.Shutdown(ctx)

	status, err := svc.Status(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, status.HasResolution)

	// The failed load is reported, not swallowed.
	assert.Equal(t, 1, logs.FilterMessage("snapshot load failed, starting with empty store").Len())

	// And the tracker keeps working, including persistence.
	_, err = svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix"})
	require.NoError(t, err)
	assert.NoError(t, svc.PersistToDisk(ctx))
}

func TestServicePersistenceFailureNonFatal(t *testing.T) {
	ctx := context.Background()

	// A storage dir that is actually a file makes every save fail.
	parent := t.TempDir()
	dir := filepath.Join(parent, "not-a-dir")
	requireWriteFile(t, dir, "occupied")

	svc := newTestService(t, dir, nil)
	defer svc.Shutdown(ctx)

	// In-memory operation succeeds regardless of storage health.
	_, err := svc.MarkResolved(ctx, "E1", Resolution{Notes: "fix"})
	require.NoError(t, err)

	status, err := svc.Status(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, status.HasResolution)

	// The explicit persistence call does surface the failure.
	assert.Error(t, svc.PersistToDisk(ctx))
}

func writeCorruptSnapshot(t *testing.T, dir string) {
	t.Helper()
	sn := NewSnapshotter(dir, zap.NewNop())
	requireWriteFile(t, sn.Path(), "{definitely not json")
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestServiceQueuesCallsUntilLoaded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := newTestClock()

	seed := newTestService(t, dir, clock)
	_, err := seed.MarkResolved(ctx, "E1", Resolution{Notes: "fix"})
	require.NoError(t, err)
	require.NoError(t, seed.Shutdown(ctx))

	// Issue a read immediately after construction; it must observe the
	// fully loaded store, never a partial one.
	svc := newTestService(t, dir, clock)
	defer svc.Shutdown(ctx)

	status, err := svc.Status(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, status.HasResolution)
}
