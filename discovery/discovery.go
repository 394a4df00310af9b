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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elibdev/lifelog/identity"
	"github.com/elibdev/lifelog/internal/logger"
	"github.com/elibdev/lifelog/internal/metrics"
)

// maxDatagramSize bounds inbound beacon datagrams.
const maxDatagramSize = 4096

// readDeadline is the per-read timeout that lets the listen loop observe
// shutdown.
const readDeadline = time.Second

// Config tunes the discovery subsystem.
type Config struct {
	// Port is the UDP port beacons are sent to and received on.
	Port int
	// BroadcastInterval is the beacon period.
	BroadcastInterval time.Duration
	// PeerTimeout evicts peers not refreshed within this window.
	PeerTimeout time.Duration
	// DeviceName is the human label announced in beacons.
	DeviceName string
	// SyncPort is the HTTP port announced in beacons.
	SyncPort int
}

// beaconPayload is the signed portion of a presence beacon.
type beaconPayload struct {
	DeviceID         string `json:"deviceId"`
	DeviceName       string `json:"deviceName"`
	HTTPPort         int    `json:"httpPort"`
	Timestamp        int64  `json:"timestamp"`
	SignPublicKey    string `json:"signPublicKey"`
	EncryptPublicKey string `json:"encryptPublicKey"`
}

// beaconEnvelope is the wire format of a beacon datagram.
type beaconEnvelope struct {
	Payload   beaconPayload `json:"payload"`
	Signature string        `json:"signature"`
}

// Discovery broadcasts signed presence beacons and maintains the live
// peer directory from beacons received on the same LAN segment.
type Discovery struct {
	cfg      Config
	id       *identity.Identity
	deviceID string
	userID   string

	dir    *directory
	events Events
	log    logger.Logger

	conn net.PacketConn
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a discovery subsystem for the given identity.
func New(cfg Config, id *identity.Identity, events Events) *Discovery {
	if events == nil {
		events = NoopEvents{}
	}
	return &Discovery{
		cfg:      cfg,
		id:       id,
		deviceID: uuid.NewString(),
		userID:   id.UserID(),
		dir:      newDirectory(),
		events:   events,
		log:      logger.GetDefaultLogger().WithFields(logger.String("component", "discovery")),
		stop:     make(chan struct{}),
	}
}

// DeviceID returns this device's random identifier.
func (d *Discovery) DeviceID() string {
	return d.deviceID
}

// Start binds the UDP socket and launches the broadcast and listen loops.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("discovery already started")
	}

	lc := net.ListenConfig{Control: controlSocket}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", d.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind discovery port %d: %w", d.cfg.Port, err)
	}
	d.conn = conn
	d.started = true

	d.wg.Add(2)
	go d.broadcastLoop()
	go d.listenLoop()

	d.log.Info("discovery started",
		logger.Int("port", d.cfg.Port),
		logger.String("device_id", d.deviceID),
		logger.String("device_name", d.cfg.DeviceName))
	return nil
}

// Stop shuts both loops down and releases the socket.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stop)
	d.conn.Close()
	d.wg.Wait()
	d.log.Info("discovery stopped")
}

// ListPeers returns a snapshot of the live peer directory.
func (d *Discovery) ListPeers() []Peer {
	return d.dir.list()
}

// FindPeerByName returns the live peer with the given device name,
// matched case-insensitively.
func (d *Discovery) FindPeerByName(name string) (Peer, bool) {
	return d.dir.findByName(name)
}

// Healthy reports whether the subsystem is running.
func (d *Discovery) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// broadcastLoop sends a beacon every BroadcastInterval and evicts stale
// peers after each send.
func (d *Discovery) broadcastLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.BroadcastInterval)
	defer ticker.Stop()

	d.sendBeacon()
	d.evictStale()

	for {
		select {
		case <-ticker.C:
			d.sendBeacon()
			d.evictStale()
		case <-d.stop:
			return
		}
	}
}

// sendBeacon signs and broadcasts one presence beacon.
func (d *Discovery) sendBeacon() {
	payload := beaconPayload{
		DeviceID:         d.deviceID,
		DeviceName:       d.cfg.DeviceName,
		HTTPPort:         d.cfg.SyncPort,
		Timestamp:        time.Now().Unix(),
		SignPublicKey:    d.id.SignPublicKeyB64(),
		EncryptPublicKey: d.id.AgreePublicKeyB64(),
	}
	sig, err := d.id.Sign(payload)
	if err != nil {
		d.log.Error("failed to sign beacon", logger.Error(err))
		return
	}
	data, err := json.Marshal(beaconEnvelope{Payload: payload, Signature: sig})
	if err != nil {
		d.log.Error("failed to encode beacon", logger.Error(err))
		return
	}

	sent := false
	for _, addr := range broadcastAddrs() {
		dst := &net.UDPAddr{IP: addr, Port: d.cfg.Port}
		if _, err := d.conn.WriteTo(data, dst); err == nil {
			sent = true
		}
	}
	if sent {
		metrics.BeaconsSent.Inc()
	}
}

// evictStale drops timed-out peers and notifies upward.
func (d *Discovery) evictStale() {
	lost := d.dir.evictStale(time.Now(), d.cfg.PeerTimeout)
	for _, p := range lost {
		metrics.PeersEvicted.Inc()
		d.log.Info("peer lost", logger.String("device_name", p.DeviceName))
		d.events.OnPeerLost(p)
	}
}

// listenLoop receives datagrams until Stop. Each read carries a short
// deadline so the loop can observe the stop channel.
func (d *Discovery) listenLoop() {
	defer d.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Closed socket on shutdown, or a transient read failure.
			select {
			case <-d.stop:
				return
			default:
				continue
			}
		}
		d.handleDatagram(buf[:n], from)
	}
}

// handleDatagram validates one inbound beacon and updates the directory.
func (d *Discovery) handleDatagram(data []byte, from net.Addr) {
	var env beaconEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not our protocol; the segment is shared.
		metrics.BeaconsDropped.WithLabelValues("malformed").Inc()
		return
	}

	if !identity.Verify(env.Payload.SignPublicKey, env.Payload, env.Signature) {
		metrics.BeaconsDropped.WithLabelValues("invalid_signature").Inc()
		d.log.Warn("dropping beacon with invalid signature",
			logger.String("device_id", env.Payload.DeviceID))
		return
	}

	peerUserID, err := identity.UserIDOf(env.Payload.SignPublicKey)
	if err != nil || peerUserID != d.userID {
		// Another user's devices on the same network; expected, not an error.
		metrics.BeaconsDropped.WithLabelValues("wrong_user").Inc()
		return
	}

	if env.Payload.DeviceID == d.deviceID {
		metrics.BeaconsDropped.WithLabelValues("self_echo").Inc()
		return
	}

	addr := ""
	if udp, ok := from.(*net.UDPAddr); ok {
		addr = udp.IP.String()
	}

	peer := Peer{
		DeviceID:       env.Payload.DeviceID,
		DeviceName:     env.Payload.DeviceName,
		Address:        addr,
		SyncPort:       env.Payload.HTTPPort,
		SignPublicKey:  env.Payload.SignPublicKey,
		AgreePublicKey: env.Payload.EncryptPublicKey,
		LastSeen:       time.Now(),
	}

	metrics.BeaconsReceived.Inc()
	if d.dir.upsert(peer) {
		d.log.Info("peer discovered",
			logger.String("device_name", peer.DeviceName),
			logger.String("address", peer.Address),
			logger.Int("sync_port", peer.SyncPort))
		d.events.OnPeerDiscovered(peer)
	}
}

// broadcastAddrs returns the directed broadcast address of every up,
// broadcast-capable IPv4 interface, falling back to the limited
// broadcast address.
func broadcastAddrs() []net.IP {
	var out []net.IP
	seen := make(map[string]struct{})

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				ip4 := ipnet.IP.To4()
				if ip4 == nil {
					continue
				}
				mask := ipnet.Mask
				if len(mask) == 16 {
					mask = mask[12:]
				}
				bcast := make(net.IP, 4)
				for i := 0; i < 4; i++ {
					bcast[i] = ip4[i] | ^mask[i]
				}
				if _, dup := seen[bcast.String()]; !dup {
					seen[bcast.String()] = struct{}{}
					out = append(out, bcast)
				}
			}
		}
	}

	if len(out) == 0 {
		out = append(out, net.IPv4bcast)
	}
	return out
}
