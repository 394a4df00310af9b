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

package protocol

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elibdev/lifelog/discovery"
	"github.com/elibdev/lifelog/gset"
	"github.com/elibdev/lifelog/identity"
	"github.com/elibdev/lifelog/internal/logger"
	"github.com/elibdev/lifelog/internal/metrics"
)

var (
	// ErrUnauthorized is returned when the peer rejects our credentials.
	ErrUnauthorized = errors.New("peer rejected authentication")
)

// ClientConfig tunes the sync client.
type ClientConfig struct {
	// RequestTimeout is the per-request deadline.
	RequestTimeout time.Duration
	// PullBatchSize bounds how many hashes one pull request may carry.
	PullBatchSize int
}

// Client drives the three-phase sync exchange against one peer. Each
// request performs its own challenge handshake and derives a fresh
// session key; there is no persistent session.
type Client struct {
	set  *gset.GSet
	id   *identity.Identity
	http *http.Client
	cfg  ClientConfig
	log  logger.Logger
}

// Result summarizes one sync exchange.
type Result struct {
	// Pulled is the number of events newly merged from the peer.
	Pulled int
	// Pushed is the number of events the peer reported newly added.
	Pushed int
}

// NewClient creates a sync client backed by the given set and identity.
func NewClient(set *gset.GSet, id *identity.Identity, cfg ClientConfig) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.PullBatchSize == 0 {
		cfg.PullBatchSize = 100
	}
	return &Client{
		set:  set,
		id:   id,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:  cfg,
		log:  logger.GetDefaultLogger().WithFields(logger.String("component", "sync-client")),
	}
}

// Sync performs the inventory, pull, and push phases against peer.
// Pulled events are merged as soon as they arrive, so partial progress
// survives a failure in a later phase; every operation is idempotent
// and safe to retry.
func (c *Client) Sync(ctx context.Context, peer discovery.Peer) (*Result, error) {
	base := fmt.Sprintf("http://%s:%d", peer.Address, peer.SyncPort)
	metrics.SyncsStarted.WithLabelValues("client").Inc()

	res := &Result{}
	err := c.sync(ctx, base, res)
	if err != nil {
		metrics.SyncsCompleted.WithLabelValues("failure").Inc()
		return res, err
	}
	metrics.SyncsCompleted.WithLabelValues("success").Inc()
	c.log.Info("sync complete",
		logger.String("peer", peer.DeviceName),
		logger.Int("pulled", res.Pulled),
		logger.Int("pushed", res.Pushed))
	return res, nil
}

func (c *Client) sync(ctx context.Context, base string, res *Result) error {
	// Phase I: inventory.
	start := time.Now()
	peerHashes, err := c.fetchInventory(ctx, base)
	if err != nil {
		return err
	}
	metrics.SyncPhaseDuration.WithLabelValues("inventory").Observe(time.Since(start).Seconds())

	local := c.set.Hashes()
	var weNeed, theyNeed []string
	for h := range peerHashes {
		if _, ok := local[h]; !ok {
			weNeed = append(weNeed, h)
		}
	}
	for h := range local {
		if _, ok := peerHashes[h]; !ok {
			theyNeed = append(theyNeed, h)
		}
	}

	// Phase II: pull what we are missing, merging batch by batch.
	if len(weNeed) > 0 {
		start = time.Now()
		pulled, err := c.pull(ctx, base, weNeed)
		res.Pulled += pulled
		if err != nil {
			return err
		}
		metrics.SyncPhaseDuration.WithLabelValues("pull").Observe(time.Since(start).Seconds())
	}

	// Phase III: push what the peer is missing. The peer's set may have
	// changed since Phase I; union semantics make that harmless.
	if len(theyNeed) > 0 {
		start = time.Now()
		pushed, err := c.push(ctx, base, theyNeed)
		if err != nil {
			return err
		}
		res.Pushed = pushed
		metrics.SyncPhaseDuration.WithLabelValues("push").Observe(time.Since(start).Seconds())
	}

	return nil
}

// fetchInventory runs Phase I and returns the peer's hash set.
func (c *Client) fetchInventory(ctx context.Context, base string) (map[string]struct{}, error) {
	plaintext, err := c.authorizedRequest(ctx, base, http.MethodGet, PathInventory, nil)
	if err != nil {
		return nil, err
	}
	var body inventoryBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, fmt.Errorf("malformed inventory payload: %w", err)
	}
	out := make(map[string]struct{}, len(body.Hashes))
	for _, h := range body.Hashes {
		out[h] = struct{}{}
	}
	return out, nil
}

// pull runs Phase II in batches, merging each batch on arrival. It
// returns the number of events added locally even when a later batch
// fails.
func (c *Client) pull(ctx context.Context, base string, hashes []string) (int, error) {
	added := 0
	for start := 0; start < len(hashes); start += c.cfg.PullBatchSize {
		end := start + c.cfg.PullBatchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]

		path := PathPull + "?hashes=" + url.QueryEscape(strings.Join(batch, ","))
		plaintext, err := c.authorizedRequest(ctx, base, http.MethodGet, path, nil)
		if err != nil {
			return added, err
		}
		var body eventsBody
		if err := json.Unmarshal(plaintext, &body); err != nil {
			return added, fmt.Errorf("malformed pull payload: %w", err)
		}
		n := c.set.Merge(body.Events)
		added += n
		if n > 0 {
			metrics.EventsMerged.Add(float64(n))
		}
	}
	return added, nil
}

// push runs Phase III and returns how many events the peer added.
func (c *Client) push(ctx context.Context, base string, hashes []string) (int, error) {
	events := c.set.EventsFor(hashes)
	payload, err := json.Marshal(eventsBody{Events: events})
	if err != nil {
		return 0, fmt.Errorf("failed to encode push payload: %w", err)
	}
	plaintext, err := c.authorizedRequest(ctx, base, http.MethodPost, PathPush, payload)
	if err != nil {
		return 0, err
	}
	var reply pushReply
	if err := json.Unmarshal(plaintext, &reply); err != nil {
		return 0, fmt.Errorf("malformed push reply: %w", err)
	}
	return reply.Added, nil
}

// handshake fetches a fresh challenge and prepares the auth headers and
// session key for exactly one authenticated request.
func (c *Client) handshake(ctx context.Context, base string) (authHeader string, key []byte, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+PathChallenge, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("challenge request returned %d", resp.StatusCode)
	}
	var reply challengeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", nil, fmt.Errorf("malformed challenge reply: %w", err)
	}

	sig, err := c.id.Sign(map[string]interface{}{"challenge": reply.Challenge})
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign challenge: %w", err)
	}
	auth, err := json.Marshal(authResponse{
		Challenge:     reply.Challenge,
		Signature:     sig,
		SignPublicKey: c.id.SignPublicKeyB64(),
	})
	if err != nil {
		return "", nil, err
	}

	key, err = c.id.DeriveSharedKey(reply.ServerEncryptKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(auth), key, nil
}

// authorizedRequest performs one authenticated exchange: handshake,
// request with encrypted body (for POST), and decryption of the
// encrypted response.
func (c *Client) authorizedRequest(ctx context.Context, base, method, path string, payload []byte) ([]byte, error) {
	authHeader, key, err := c.handshake(ctx, base)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		env, err := identity.Encrypt(payload, key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt request: %w", err)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderAuthResponse, authHeader)
	req.Header.Set(HeaderEncryptKey, c.id.AgreePublicKeyB64())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("peer returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var env identity.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	plaintext, err := identity.Decrypt(&env, key)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
