package protocol

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elibdev/lifelog/discovery"
	"github.com/elibdev/lifelog/gset"
	"github.com/elibdev/lifelog/identity"
)

// node bundles one device: its set, its server, and a client sharing
// the same set, the way the coordinator wires them.
type node struct {
	set    *gset.GSet
	server *httptest.Server
	client *Client
}

func newNode(t *testing.T, id *identity.Identity, cfg ClientConfig) *node {
	t.Helper()
	set := gset.New()
	srv := NewServer(set, id, ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &node{
		set:    set,
		server: ts,
		client: NewClient(set, id, cfg),
	}
}

// peerOf converts a test server address into a peer record.
func peerOf(t *testing.T, ts *httptest.Server, name string) discovery.Peer {
	t.Helper()
	u := ts.Listener.Addr().(*net.TCPAddr)
	return discovery.Peer{
		DeviceID:   name + "-id",
		DeviceName: name,
		Address:    u.IP.String(),
		SyncPort:   u.Port,
	}
}

func addEvent(t *testing.T, s *gset.GSet, subject, content string, ts uint64) *gset.Event {
	t.Helper()
	e, err := gset.NewEventAt(gset.EventCreate, subject, content, ts)
	require.NoError(t, err)
	require.True(t, s.Add(e))
	return e
}

func TestSyncConvergence(t *testing.T) {
	// Devices of one user share identity key material.
	id := newTestIdentity(t)

	a := newNode(t, id, ClientConfig{})
	b := newNode(t, id, ClientConfig{})

	addEvent(t, a.set, "n1", "e1", 1000)
	addEvent(t, a.set, "n2", "e2", 1001)
	addEvent(t, b.set, "n3", "e3", 1002)
	addEvent(t, b.set, "n4", "e4", 1003)

	res, err := a.client.Sync(context.Background(), peerOf(t, b.server, "b"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Pulled)
	require.Equal(t, 2, res.Pushed)

	require.Equal(t, 4, a.set.Len())
	require.Equal(t, 4, b.set.Len())
	require.Equal(t, a.set.Project(), b.set.Project())

	t.Run("second sync is a no-op", func(t *testing.T) {
		res, err := a.client.Sync(context.Background(), peerOf(t, b.server, "b"))
		require.NoError(t, err)
		require.Equal(t, 0, res.Pulled)
		require.Equal(t, 0, res.Pushed)
	})
}

func TestThreeWayConvergence(t *testing.T) {
	id := newTestIdentity(t)

	a := newNode(t, id, ClientConfig{})
	b := newNode(t, id, ClientConfig{})
	c := newNode(t, id, ClientConfig{})

	// Concurrent edits of the same subject on three devices.
	addEvent(t, a.set, "N1", "a", 1000)
	addEvent(t, b.set, "N1", "b", 1001)
	addEvent(t, c.set, "N1", "c", 1002)

	ctx := context.Background()
	_, err := a.client.Sync(ctx, peerOf(t, b.server, "b"))
	require.NoError(t, err)
	_, err = b.client.Sync(ctx, peerOf(t, c.server, "c"))
	require.NoError(t, err)
	_, err = c.client.Sync(ctx, peerOf(t, a.server, "a"))
	require.NoError(t, err)

	for _, n := range []*node{a, b, c} {
		view := n.set.Project()
		require.Equal(t, "c", view["N1"].Content, "highest timestamp wins everywhere")
	}
}

func TestPullBatching(t *testing.T) {
	id := newTestIdentity(t)

	a := newNode(t, id, ClientConfig{PullBatchSize: 2})
	b := newNode(t, id, ClientConfig{})

	for i := 0; i < 7; i++ {
		addEvent(t, b.set, "n"+strconv.Itoa(i), "x", uint64(1000+i))
	}

	res, err := a.client.Sync(context.Background(), peerOf(t, b.server, "b"))
	require.NoError(t, err)
	require.Equal(t, 7, res.Pulled)
	require.Equal(t, 7, a.set.Len())
}

func TestSyncAgainstStrangerIsUnauthorized(t *testing.T) {
	us := newTestIdentity(t)
	them := newTestIdentity(t)

	a := newNode(t, us, ClientConfig{})
	x := newNode(t, them, ClientConfig{})

	addEvent(t, a.set, "n1", "private", 1000)
	addEvent(t, x.set, "n2", "theirs", 1001)

	_, err := a.client.Sync(context.Background(), peerOf(t, x.server, "x"))
	require.ErrorIs(t, err, ErrUnauthorized)

	// No events crossed the user boundary.
	require.Equal(t, 1, a.set.Len())
	require.Equal(t, 1, x.set.Len())
}

func TestPartialFailureKeepsPulledEvents(t *testing.T) {
	id := newTestIdentity(t)

	a := newNode(t, id, ClientConfig{})

	// Peer that serves inventory and pull but drops the connection on push.
	bSet := gset.New()
	bSrv := NewServer(bSet, id, ServerConfig{})
	inner := bSrv.Handler()
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathPush {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer flaky.Close()

	addEvent(t, a.set, "mine", "local", 1000)
	addEvent(t, bSet, "theirs", "remote", 1001)

	peer := peerOf(t, flaky, "b")
	res, err := a.client.Sync(context.Background(), peer)
	require.Error(t, err)
	require.Equal(t, 1, res.Pulled, "phase II merges survive a phase III failure")
	require.Equal(t, 2, a.set.Len())

	// A healthy peer with the same set completes the push.
	healthy := httptest.NewServer(bSrv.Handler())
	defer healthy.Close()

	res, err = a.client.Sync(context.Background(), peerOf(t, healthy, "b"))
	require.NoError(t, err)
	require.Equal(t, 0, res.Pulled)
	require.Equal(t, 1, res.Pushed)
	require.Equal(t, 2, bSet.Len())
	require.Equal(t, a.set.Project(), bSet.Project())
}
