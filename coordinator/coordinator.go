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

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/elibdev/lifelog/config"
	"github.com/elibdev/lifelog/discovery"
	"github.com/elibdev/lifelog/gset"
	"github.com/elibdev/lifelog/health"
	"github.com/elibdev/lifelog/identity"
	"github.com/elibdev/lifelog/internal/logger"
	"github.com/elibdev/lifelog/internal/metrics"
	"github.com/elibdev/lifelog/protocol"
)

// ErrPeerNotFound is returned when a named peer is not in the directory.
var ErrPeerNotFound = errors.New("peer not found")

// Notifier receives user-facing lifecycle notifications. Implementations
// must not block.
type Notifier interface {
	PeerDiscovered(p discovery.Peer)
	PeerLost(p discovery.Peer)
}

// NoopNotifier ignores all notifications.
type NoopNotifier struct{}

func (NoopNotifier) PeerDiscovered(discovery.Peer) {}
func (NoopNotifier) PeerLost(discovery.Peer)       {}

// Coordinator wires the identity, G-Set, discovery subsystem, sync
// server, and sync client together, and serializes outbound sync
// initiations against one another.
type Coordinator struct {
	cfg *config.Config
	id  *identity.Identity
	set *gset.GSet

	disc    *discovery.Discovery
	server  *protocol.Server
	client  *protocol.Client
	checker *health.HealthChecker

	httpSrv  *http.Server
	listener net.Listener
	syncPort int

	notifier Notifier
	log      logger.Logger

	// syncMu serializes user- and timer-triggered sync initiations.
	syncMu sync.Mutex

	stopBg chan struct{}
	bgWg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a coordinator from configuration. The identity is loaded
// from (or created at) the configured key file; an existing unreadable
// key file is a fatal startup error for the caller.
func New(cfg *config.Config, notifier Notifier) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	id, err := identity.CreateOrLoad(cfg.Device.KeyFile)
	if err != nil {
		return nil, err
	}

	set := gset.New()

	c := &Coordinator{
		cfg:      cfg,
		id:       id,
		set:      set,
		notifier: notifier,
		log:      logger.GetDefaultLogger().WithFields(logger.String("component", "coordinator")),
		stopBg:   make(chan struct{}),
	}

	c.server = protocol.NewServer(set, id, protocol.ServerConfig{
		ChallengeTTL: cfg.Sync.ChallengeTTL,
	})
	c.client = protocol.NewClient(set, id, protocol.ClientConfig{
		RequestTimeout: cfg.Sync.RequestTimeout,
		PullBatchSize:  cfg.Sync.PullBatchSize,
	})

	c.checker = health.NewHealthChecker(2 * time.Second)

	return c, nil
}

// UserID returns the local user identifier.
func (c *Coordinator) UserID() string {
	return c.id.UserID()
}

// SyncPort returns the bound HTTP port once Start has succeeded.
func (c *Coordinator) SyncPort() int {
	return c.syncPort
}

// DeviceName returns the configured device label.
func (c *Coordinator) DeviceName() string {
	return c.cfg.Device.Name
}

// Start binds the sync server, then launches discovery and the optional
// background sync loop. The HTTP port must be bound first so beacons
// announce a reachable port.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("coordinator already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.Device.SyncPort))
	if err != nil {
		return fmt.Errorf("failed to bind sync port: %w", err)
	}
	c.listener = ln
	c.syncPort = ln.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	c.server.Register(mux)
	if c.cfg.Metrics != nil && c.cfg.Metrics.Enabled {
		mux.Handle(c.cfg.Metrics.Path, metrics.Handler())
	}
	if c.cfg.Health != nil && c.cfg.Health.Enabled {
		mux.Handle(c.cfg.Health.Path, c.checker.Handler())
	}

	c.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := c.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("sync server stopped", logger.Error(err))
		}
	}()

	c.disc = discovery.New(discovery.Config{
		Port:              c.cfg.Discovery.Port,
		BroadcastInterval: c.cfg.Discovery.BroadcastInterval,
		PeerTimeout:       c.cfg.Discovery.PeerTimeout,
		DeviceName:        c.cfg.Device.Name,
		SyncPort:          c.syncPort,
	}, c.id, discoveryEvents{c})
	if err := c.disc.Start(); err != nil {
		c.httpSrv.Close()
		return err
	}

	c.checker.RegisterCheck("discovery", health.RunningHealthCheck("discovery", c.disc.Healthy))
	c.checker.RegisterCheck("sync-server", health.RunningHealthCheck("sync-server", func() bool {
		return c.httpSrv != nil
	}))

	if c.cfg.Sync.SyncInterval > 0 {
		c.bgWg.Add(1)
		go c.backgroundLoop()
	}

	c.started = true
	c.log.Info("coordinator started",
		logger.String("device_name", c.cfg.Device.Name),
		logger.String("user_id", c.id.UserID()),
		logger.Int("sync_port", c.syncPort))
	return nil
}

// Stop shuts everything down: the background loop, discovery, and the
// HTTP server (draining in-flight handlers briefly), then wipes key
// material.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopBg)
	c.bgWg.Wait()

	c.disc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.httpSrv.Shutdown(ctx); err != nil {
		c.httpSrv.Close()
	}

	c.id.Close()
	c.log.Info("coordinator stopped")
}

// Create builds a CREATE event for a fresh subject and returns the
// subject id.
func (c *Coordinator) Create(content string) (string, error) {
	subject := uuid.NewString()
	if err := c.createEvent(gset.EventCreate, subject, content); err != nil {
		return "", err
	}
	return subject, nil
}

// Update builds an UPDATE event for an existing subject.
func (c *Coordinator) Update(subjectID, content string) error {
	return c.createEvent(gset.EventUpdate, subjectID, content)
}

// Delete builds a DELETE event for a subject.
func (c *Coordinator) Delete(subjectID string) error {
	return c.createEvent(gset.EventDelete, subjectID, "")
}

// CreateLocalEvent builds an event of the given type and inserts it.
func (c *Coordinator) CreateLocalEvent(typ gset.EventType, subjectID, content string) error {
	return c.createEvent(typ, subjectID, content)
}

func (c *Coordinator) createEvent(typ gset.EventType, subjectID, content string) error {
	e, err := gset.NewEvent(typ, subjectID, content)
	if err != nil {
		return err
	}
	c.set.Add(e)
	c.log.Debug("local event created",
		logger.String("type", string(typ)),
		logger.String("subject_id", subjectID),
		logger.String("hash", e.Hash))
	return nil
}

// Project returns the current deterministic view of the G-Set.
func (c *Coordinator) Project() map[string]gset.Entry {
	return c.set.Project()
}

// EventCount returns the size of the local G-Set.
func (c *Coordinator) EventCount() int {
	return c.set.Len()
}

// Peers returns a snapshot of the live peer directory.
func (c *Coordinator) Peers() []discovery.Peer {
	if c.disc == nil {
		return nil
	}
	return c.disc.ListPeers()
}

// SyncWith runs one sync exchange against the named peer.
func (c *Coordinator) SyncWith(ctx context.Context, name string) (*protocol.Result, error) {
	if c.disc == nil {
		return nil, ErrPeerNotFound
	}
	peer, ok := c.disc.FindPeerByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, name)
	}
	return c.syncPeer(ctx, peer)
}

// SyncAll syncs with every live peer concurrently and returns the first
// error, if any. Exchanges against distinct peers may run in parallel;
// the G-Set tolerates that by construction.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	peers := c.Peers()
	if len(peers) == 0 {
		return nil
	}

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		p := peer
		g.Go(func() error {
			_, err := c.client.Sync(gctx, p)
			if err != nil {
				c.log.Warn("sync failed",
					logger.String("peer", p.DeviceName),
					logger.Error(err))
			}
			return err
		})
	}
	return g.Wait()
}

func (c *Coordinator) syncPeer(ctx context.Context, peer discovery.Peer) (*protocol.Result, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.client.Sync(ctx, peer)
}

// Health returns the current system health snapshot.
func (c *Coordinator) Health(ctx context.Context) *health.SystemHealth {
	return c.checker.GetSystemHealth(ctx)
}

// backgroundLoop periodically syncs with all live peers.
func (c *Coordinator) backgroundLoop() {
	defer c.bgWg.Done()

	ticker := time.NewTicker(c.cfg.Sync.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			_ = c.SyncAll(ctx)
			cancel()
		case <-c.stopBg:
			return
		}
	}
}

// discoveryEvents adapts discovery callbacks onto the notifier.
type discoveryEvents struct {
	c *Coordinator
}

func (e discoveryEvents) OnPeerDiscovered(p discovery.Peer) {
	e.c.notifier.PeerDiscovered(p)
}

func (e discoveryEvents) OnPeerLost(p discovery.Peer) {
	e.c.notifier.PeerLost(p)
}
