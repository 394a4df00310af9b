// Copyright (C) 2025 lifelog
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package discovery

import (
	"strings"
	"sync"
	"time"

	"github.com/elibdev/lifelog/internal/metrics"
)

// Peer is a live device belonging to the local user.
type Peer struct {
	DeviceID       string
	DeviceName     string
	Address        string
	SyncPort       int
	SignPublicKey  string
	AgreePublicKey string
	LastSeen       time.Time
}

// Events receives peer lifecycle notifications. Implementations must not
// block; callbacks run on the discovery loops.
type Events interface {
	OnPeerDiscovered(p Peer)
	OnPeerLost(p Peer)
}

// NoopEvents is an Events implementation that ignores everything.
type NoopEvents struct{}

func (NoopEvents) OnPeerDiscovered(Peer) {}
func (NoopEvents) OnPeerLost(Peer)       {}

// directory is the peer table: written by the listen loop (upserts) and
// the broadcast loop (evictions), read by everyone else.
type directory struct {
	mu    sync.RWMutex
	peers map[string]Peer // keyed by device id
}

func newDirectory() *directory {
	return &directory{peers: make(map[string]Peer)}
}

// upsert inserts or refreshes a peer record, returning true when the
// peer was newly discovered.
func (d *directory) upsert(p Peer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, known := d.peers[p.DeviceID]
	d.peers[p.DeviceID] = p
	if !known {
		metrics.PeersKnown.Set(float64(len(d.peers)))
	}
	return !known
}

// evictStale removes peers not refreshed within timeout and returns them.
func (d *directory) evictStale(now time.Time, timeout time.Duration) []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lost []Peer
	for id, p := range d.peers {
		if now.Sub(p.LastSeen) > timeout {
			delete(d.peers, id)
			lost = append(lost, p)
		}
	}
	if len(lost) > 0 {
		metrics.PeersKnown.Set(float64(len(d.peers)))
	}
	return lost
}

// list returns a snapshot of all live peers.
func (d *directory) list() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// findByName returns the peer whose device name matches, ignoring case.
func (d *directory) findByName(name string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, p := range d.peers {
		if strings.EqualFold(p.DeviceName, name) {
			return p, true
		}
	}
	return Peer{}, false
}
