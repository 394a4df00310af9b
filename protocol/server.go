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
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elibdev/lifelog/gset"
	"github.com/elibdev/lifelog/identity"
	"github.com/elibdev/lifelog/internal/logger"
	"github.com/elibdev/lifelog/internal/metrics"
)

// maxRequestBody bounds encrypted request bodies.
const maxRequestBody = 16 << 20

// ServerConfig tunes the sync server.
type ServerConfig struct {
	// ChallengeTTL is the lifetime of a minted challenge.
	ChallengeTTL time.Duration
}

// Server exposes the sync exchange over HTTP. It owns no process-wide
// state: the G-Set, identity, and challenge table are supplied at
// construction.
type Server struct {
	set        *gset.GSet
	id         *identity.Identity
	challenges *challengeTable
	log        logger.Logger
}

// NewServer creates a sync server backed by the given set and identity.
func NewServer(set *gset.GSet, id *identity.Identity, cfg ServerConfig) *Server {
	ttl := cfg.ChallengeTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Server{
		set:        set,
		id:         id,
		challenges: newChallengeTable(ttl),
		log:        logger.GetDefaultLogger().WithFields(logger.String("component", "sync-server")),
	}
}

// Register mounts the sync endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(PathChallenge, s.handleChallenge)
	mux.HandleFunc(PathInventory, s.handleInventory)
	mux.HandleFunc(PathPull, s.handlePull)
	mux.HandleFunc(PathPush, s.handlePush)
}

// Handler returns an http.Handler serving the sync endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// OutstandingChallenges reports the current challenge table size.
func (s *Server) OutstandingChallenges() int {
	return s.challenges.Len()
}

// handleChallenge mints a single-use challenge. This is the only
// cleartext, unauthenticated endpoint.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ch, err := s.challenges.Mint()
	if err != nil {
		s.log.Error("failed to mint challenge", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, challengeReply{
		Challenge:        ch,
		ServerEncryptKey: s.id.AgreePublicKeyB64(),
	})
}

// authenticate runs the verification chain for a non-challenge request
// and returns the session key derived from the caller's encrypt key.
// On failure it writes a uniform 401 and returns nil; the failure kind
// is logged locally only.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) []byte {
	reject := func(kind string) []byte {
		metrics.AuthFailures.Inc()
		s.log.Warn("rejected request", logger.String("reason", kind), logger.String("path", r.URL.Path))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil
	}

	rawAuth := r.Header.Get(HeaderAuthResponse)
	if rawAuth == "" {
		return reject("missing auth header")
	}
	decoded, err := base64.StdEncoding.DecodeString(rawAuth)
	if err != nil {
		return reject("malformed auth header")
	}
	var auth authResponse
	if err := json.Unmarshal(decoded, &auth); err != nil {
		return reject("malformed auth response")
	}

	if !s.challenges.Lookup(auth.Challenge) {
		return reject("unknown or expired challenge")
	}

	msg := map[string]interface{}{"challenge": auth.Challenge}
	if !identity.Verify(auth.SignPublicKey, msg, auth.Signature) {
		return reject("invalid signature")
	}

	callerUserID, err := identity.UserIDOf(auth.SignPublicKey)
	if err != nil || callerUserID != s.id.UserID() {
		return reject("wrong user")
	}

	if !s.challenges.Consume(auth.Challenge) {
		return reject("challenge already consumed")
	}

	encryptKey := r.Header.Get(HeaderEncryptKey)
	if encryptKey == "" {
		return reject("missing encrypt key")
	}
	key, err := s.id.DeriveSharedKey(encryptKey)
	if err != nil {
		return reject("invalid encrypt key")
	}
	return key
}

// handleInventory returns the full hash set, encrypted.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := s.authenticate(w, r)
	if key == nil {
		return
	}
	metrics.SyncsStarted.WithLabelValues("server").Inc()

	hashes := s.set.Hashes()
	body := inventoryBody{Hashes: make([]string, 0, len(hashes))}
	for h := range hashes {
		body.Hashes = append(body.Hashes, h)
	}
	s.writeEncrypted(w, key, body)
}

// handlePull returns the events matching the requested hashes, encrypted.
// Unknown hashes are skipped silently.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := s.authenticate(w, r)
	if key == nil {
		return
	}

	var hashes []string
	if raw := r.URL.Query().Get("hashes"); raw != "" {
		hashes = strings.Split(raw, ",")
	}
	events := s.set.EventsFor(hashes)
	s.writeEncrypted(w, key, eventsBody{Events: events})
}

// handlePush merges events supplied by the caller; both directions are
// encrypted.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := s.authenticate(w, r)
	if key == nil {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.log.Warn("failed to read push body", logger.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var env identity.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("malformed push envelope", logger.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	plaintext, err := identity.Decrypt(&env, key)
	if err != nil {
		s.log.Warn("push decryption failed", logger.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var body eventsBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		s.log.Warn("malformed push payload", logger.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	added := s.set.Merge(body.Events)
	if added > 0 {
		metrics.EventsMerged.Add(float64(added))
	}
	s.log.Info("merged pushed events", logger.Int("received", len(body.Events)), logger.Int("added", added))
	s.writeEncrypted(w, key, pushReply{Added: added})
}

// writeEncrypted seals body under key and writes the envelope.
func (s *Server) writeEncrypted(w http.ResponseWriter, key []byte, body interface{}) {
	plaintext, err := json.Marshal(body)
	if err != nil {
		s.log.Error("failed to encode response", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	env, err := identity.Encrypt(plaintext, key)
	if err != nil {
		s.log.Error("failed to encrypt response", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
