package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relaycast/relaycast/pkg/types"
)

func TestReaperCancelsStaleSessions(t *testing.T) {
	fake := newFake(types.PlatformSegmented, 256)
	o, store := testOrchestrator(t, fastRetry(), fake)
	ctx := context.Background()

	stale := initSession(t, o, types.PlatformSegmented)
	fresh := initSession(t, o, types.PlatformSegmented)

	// Backdate the first session past the stale cutoff.
	_, err := store.Update(ctx, stale.ID, func(s *types.UploadSession) error {
		s.LastActivityAt = time.Now().Add(-time.Hour).UnixNano()
		return nil
	})
	require.NoError(t, err)

	r := NewReaper(o, store, ReaperConfig{StaleTimeout: 30 * time.Minute})
	r.Run(ctx)

	sessions, err := o.ListByOwner(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, fresh.ID, sessions[0].ID)
}

func TestReaperSkipsTerminalSessions(t *testing.T) {
	fake := newFake(types.PlatformSegmented, 256)
	o, store := testOrchestrator(t, fastRetry(), fake)
	ctx := context.Background()

	s := initSession(t, o, types.PlatformSegmented)
	_, err := store.Update(ctx, s.ID, func(s *types.UploadSession) error {
		s.Status = types.StatusCompleted
		s.LastActivityAt = time.Now().Add(-time.Hour).UnixNano()
		return nil
	})
	require.NoError(t, err)

	r := NewReaper(o, store, ReaperConfig{StaleTimeout: 30 * time.Minute})
	r.Run(ctx)

	// Completed sessions stay until their TTL lapses.
	_, err = store.Get(ctx, s.ID)
	require.NoError(t, err)
}

func TestReaperStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := newFake(types.PlatformSegmented, 256)
	o, store := testOrchestrator(t, fastRetry(), fake)
	ctx := context.Background()

	s := initSession(t, o, types.PlatformSegmented)
	_, err := store.Update(ctx, s.ID, func(s *types.UploadSession) error {
		s.LastActivityAt = time.Now().Add(-time.Hour).UnixNano()
		return nil
	})
	require.NoError(t, err)

	r := NewReaper(o, store, ReaperConfig{
		StaleTimeout:  30 * time.Minute,
		SweepInterval: 5 * time.Millisecond,
	})
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		sessions, err := o.ListByOwner(ctx, testOwner)
		return err == nil && len(sessions) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReaperDefaults(t *testing.T) {
	r := NewReaper(nil, nil, ReaperConfig{})
	assert.Equal(t, DefaultStaleTimeout, r.timeout)
	assert.Equal(t, DefaultSweepInterval, r.interval)
}
