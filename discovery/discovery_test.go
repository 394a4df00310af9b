package discovery

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elibdev/lifelog/identity"
)

// recordingEvents captures peer notifications for assertions.
type recordingEvents struct {
	mu         sync.Mutex
	discovered []Peer
	lost       []Peer
}

func (r *recordingEvents) OnPeerDiscovered(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, p)
}

func (r *recordingEvents) OnPeerLost(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, p)
}

func (r *recordingEvents) discoveredNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, p := range r.discovered {
		names = append(names, p.DeviceName)
	}
	return names
}

func testConfig() Config {
	return Config{
		Port:              37520,
		BroadcastInterval: 5 * time.Second,
		PeerTimeout:       15 * time.Second,
		DeviceName:        "local",
		SyncPort:          8080,
	}
}

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

// signedBeacon builds a beacon datagram signed by id.
func signedBeacon(t *testing.T, id *identity.Identity, deviceID, name string, port int) []byte {
	t.Helper()
	payload := beaconPayload{
		DeviceID:         deviceID,
		DeviceName:       name,
		HTTPPort:         port,
		Timestamp:        time.Now().Unix(),
		SignPublicKey:    id.SignPublicKeyB64(),
		EncryptPublicKey: id.AgreePublicKeyB64(),
	}
	sig, err := id.Sign(payload)
	require.NoError(t, err)
	data, err := json.Marshal(beaconEnvelope{Payload: payload, Signature: sig})
	require.NoError(t, err)
	return data
}

var testAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 37520}

func TestHandleDatagram(t *testing.T) {
	id := mustIdentity(t)

	t.Run("valid beacon inserts a peer and notifies once", func(t *testing.T) {
		events := &recordingEvents{}
		d := New(testConfig(), id, events)

		beacon := signedBeacon(t, id, "peer-device", "Laptop", 9000)
		d.handleDatagram(beacon, testAddr)
		d.handleDatagram(beacon, testAddr)

		peers := d.ListPeers()
		require.Len(t, peers, 1)
		require.Equal(t, "Laptop", peers[0].DeviceName)
		require.Equal(t, "192.168.1.20", peers[0].Address)
		require.Equal(t, 9000, peers[0].SyncPort)
		require.Equal(t, id.SignPublicKeyB64(), peers[0].SignPublicKey)

		// Refresh must not notify again.
		require.Equal(t, []string{"Laptop"}, events.discoveredNames())
	})

	t.Run("malformed datagram is dropped", func(t *testing.T) {
		d := New(testConfig(), id, nil)
		d.handleDatagram([]byte("not json at all"), testAddr)
		require.Empty(t, d.ListPeers())
	})

	t.Run("invalid signature is dropped", func(t *testing.T) {
		d := New(testConfig(), id, nil)

		beacon := signedBeacon(t, id, "peer-device", "Laptop", 9000)
		var env beaconEnvelope
		require.NoError(t, json.Unmarshal(beacon, &env))
		env.Payload.HTTPPort = 9999 // tamper after signing
		tampered, err := json.Marshal(env)
		require.NoError(t, err)

		d.handleDatagram(tampered, testAddr)
		require.Empty(t, d.ListPeers())
	})

	t.Run("beacon from another user never enters the directory", func(t *testing.T) {
		d := New(testConfig(), id, nil)

		stranger := mustIdentity(t)
		d.handleDatagram(signedBeacon(t, stranger, "their-device", "Mallory", 9000), testAddr)
		require.Empty(t, d.ListPeers())
	})

	t.Run("self echo is dropped", func(t *testing.T) {
		d := New(testConfig(), id, nil)
		d.handleDatagram(signedBeacon(t, id, d.DeviceID(), "local", 8080), testAddr)
		require.Empty(t, d.ListPeers())
	})
}

func TestDirectoryEviction(t *testing.T) {
	dir := newDirectory()

	now := time.Now()
	dir.upsert(Peer{DeviceID: "fresh", DeviceName: "Fresh", LastSeen: now})
	dir.upsert(Peer{DeviceID: "stale", DeviceName: "Stale", LastSeen: now.Add(-20 * time.Second)})

	lost := dir.evictStale(now, 15*time.Second)
	require.Len(t, lost, 1)
	require.Equal(t, "Stale", lost[0].DeviceName)

	remaining := dir.list()
	require.Len(t, remaining, 1)
	require.Equal(t, "Fresh", remaining[0].DeviceName)
}

func TestFindPeerByName(t *testing.T) {
	dir := newDirectory()
	dir.upsert(Peer{DeviceID: "d1", DeviceName: "Laptop", LastSeen: time.Now()})

	p, ok := dir.findByName("laptop")
	require.True(t, ok)
	require.Equal(t, "Laptop", p.DeviceName)

	p, ok = dir.findByName("LAPTOP")
	require.True(t, ok)
	require.Equal(t, "d1", p.DeviceID)

	_, ok = dir.findByName("lap")
	require.False(t, ok, "match is exact, not prefix")
}

func TestEvictionNotifies(t *testing.T) {
	id := mustIdentity(t)
	events := &recordingEvents{}
	d := New(testConfig(), id, events)

	beacon := signedBeacon(t, id, "peer-device", "Laptop", 9000)
	d.handleDatagram(beacon, testAddr)
	require.Len(t, d.ListPeers(), 1)

	// Backdate the record, then run the eviction pass.
	d.dir.mu.Lock()
	p := d.dir.peers["peer-device"]
	p.LastSeen = time.Now().Add(-time.Minute)
	d.dir.peers["peer-device"] = p
	d.dir.mu.Unlock()

	d.evictStale()
	require.Empty(t, d.ListPeers())

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.lost, 1)
	require.Equal(t, "Laptop", events.lost[0].DeviceName)
}

func TestBroadcastAddrs(t *testing.T) {
	addrs := broadcastAddrs()
	require.NotEmpty(t, addrs, "always falls back to the limited broadcast address")
	for _, a := range addrs {
		require.NotNil(t, a.To4())
	}
}

func TestStartStop(t *testing.T) {
	id := mustIdentity(t)
	cfg := testConfig()
	cfg.Port = 0 // ephemeral port keeps the test isolated
	d := New(cfg, id, nil)

	require.NoError(t, d.Start())
	require.True(t, d.Healthy())
	require.Error(t, d.Start(), "double start is rejected")

	d.Stop()
	require.False(t, d.Healthy())
}
