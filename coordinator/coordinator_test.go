package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elibdev/lifelog/config"
	"github.com/elibdev/lifelog/gset"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Device.Name = "test-device"
	cfg.Device.KeyFile = filepath.Join(t.TempDir(), "test.key")
	cfg.Device.SyncPort = 0
	cfg.Discovery.Port = 0
	return cfg
}

func TestCoordinatorEvents(t *testing.T) {
	coord, err := New(testConfig(t), nil)
	require.NoError(t, err)

	subject, err := coord.Create("first note")
	require.NoError(t, err)
	require.NotEmpty(t, subject)
	require.Equal(t, 1, coord.EventCount())

	require.NoError(t, coord.Update(subject, "edited note"))
	require.NoError(t, coord.CreateLocalEvent(gset.EventCreate, "other", "second"))
	require.Equal(t, 3, coord.EventCount())

	view := coord.Project()
	require.Equal(t, "edited note", view[subject].Content)
	require.Equal(t, "second", view["other"].Content)

	require.NoError(t, coord.Delete(subject))
	view = coord.Project()
	_, ok := view[subject]
	require.False(t, ok)

	t.Run("invalid type is rejected", func(t *testing.T) {
		err := coord.CreateLocalEvent(gset.EventType("RENAME"), "x", "y")
		require.Error(t, err)
	})
}

func TestCoordinatorIdentityPersists(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(cfg, nil)
	require.NoError(t, err)

	second, err := New(cfg, nil)
	require.NoError(t, err)

	require.Equal(t, first.UserID(), second.UserID())
}

func TestCoordinatorBeforeStart(t *testing.T) {
	coord, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.Empty(t, coord.Peers())

	_, err = coord.SyncWith(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrPeerNotFound)

	require.NoError(t, coord.SyncAll(context.Background()), "no peers means nothing to do")
}

func TestCoordinatorLifecycle(t *testing.T) {
	coord, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.NoError(t, coord.Start())
	require.NotZero(t, coord.SyncPort())
	require.Error(t, coord.Start(), "double start is rejected")

	sys := coord.Health(context.Background())
	require.NotNil(t, sys)
	require.Contains(t, sys.Checks, "discovery")
	require.Contains(t, sys.Checks, "sync-server")

	_, err = coord.SyncWith(context.Background(), "missing-peer")
	require.ErrorIs(t, err, ErrPeerNotFound)

	done := make(chan struct{})
	go func() {
		coord.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop twice is harmless.
	coord.Stop()
}
