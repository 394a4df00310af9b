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

package gset

import (
	"sort"
	"sync"

	"github.com/elibdev/lifelog/internal/logger"
)

// GSet is a grow-only set of events keyed by content hash. All methods
// are safe for concurrent use; one read-write lock keeps add, merge,
// hash listing and event retrieval linearizable with respect to each other
// (writers take it exclusively, readers share it).
type GSet struct {
	mu     sync.RWMutex
	events map[string]*Event
	log    logger.Logger
}

// New returns an empty G-Set.
func New() *GSet {
	return &GSet{
		events: make(map[string]*Event),
		log:    logger.GetDefaultLogger(),
	}
}

// SetLogger replaces the logger used for collision warnings.
func (s *GSet) SetLogger(l logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.log = l
	}
}

// Add inserts an event, returning true iff it was newly inserted.
// Re-adding an event with a known hash is a no-op. A hash held by a
// different event is a prefix collision: the first write wins and the
// conflict is logged.
func (s *GSet) Add(e *Event) bool {
	if e == nil || e.Hash == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(e)
}

func (s *GSet) addLocked(e *Event) bool {
	if existing, ok := s.events[e.Hash]; ok {
		if existing.ID != e.ID || existing.Type != e.Type || existing.SubjectID != e.SubjectID ||
			existing.Timestamp != e.Timestamp || existing.Content != e.Content {
			s.log.Warn("hash collision, keeping first event",
				logger.String("hash", e.Hash),
				logger.String("kept_id", existing.ID),
				logger.String("dropped_id", e.ID))
		}
		return false
	}
	s.events[e.Hash] = e
	return true
}

// Hashes returns the set of all known event hashes.
func (s *GSet) Hashes() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{}, len(s.events))
	for h := range s.events {
		out[h] = struct{}{}
	}
	return out
}

// EventsFor returns the events matching the given hashes, silently
// skipping hashes that are not in the set.
func (s *GSet) EventsFor(hashes []string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Event, 0, len(hashes))
	for _, h := range hashes {
		if e, ok := s.events[h]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Merge inserts all events, returning the number newly added.
// Merge is commutative, associative, and idempotent.
func (s *GSet) Merge(events []*Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, e := range events {
		if e == nil || e.Hash == "" {
			continue
		}
		if s.addLocked(e) {
			added++
		}
	}
	return added
}

// Len returns the number of events in the set.
func (s *GSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Entry is the projected state of one subject.
type Entry struct {
	Content   string
	Timestamp uint64
}

// Project folds the set into the current view: events are applied in
// ascending timestamp order, ties broken by lexicographically smaller
// hash first so the greater hash overwrites. CREATE and UPDATE set the
// subject's content, DELETE removes the subject. The fold is
// deterministic for any insertion order.
func (s *GSet) Project() map[string]Entry {
	s.mu.RLock()
	ordered := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		ordered = append(ordered, e)
	}
	s.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Timestamp != ordered[j].Timestamp {
			return ordered[i].Timestamp < ordered[j].Timestamp
		}
		return ordered[i].Hash < ordered[j].Hash
	})

	view := make(map[string]Entry)
	for _, e := range ordered {
		switch e.Type {
		case EventCreate, EventUpdate:
			view[e.SubjectID] = Entry{Content: e.Content, Timestamp: e.Timestamp}
		case EventDelete:
			delete(view, e.SubjectID)
		}
	}
	return view
}
