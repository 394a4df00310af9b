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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what an event does to its subject
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether t is one of the three known event types
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Event is an immutable, content-addressed record. Its Hash is a pure
// function of the other five fields; two events with equal hashes are
// the same event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SubjectID string    `json:"subject_id"`
	Content   string    `json:"content"`
	Timestamp uint64    `json:"timestamp"`
	Hash      string    `json:"hash"`
}

// ComputeHash returns the 16-hex-character prefix of SHA-256 over the
// canonical concatenation id || type || subject_id || timestamp || content,
// with timestamp rendered as its decimal integer representation.
func ComputeHash(id string, typ EventType, subjectID string, timestamp uint64, content string) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte(typ))
	h.Write([]byte(subjectID))
	h.Write([]byte(strconv.FormatUint(timestamp, 10)))
	h.Write([]byte(content))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// NewEvent builds an event with a fresh UUID, the current wall clock in
// milliseconds, and its content hash.
func NewEvent(typ EventType, subjectID, content string) (*Event, error) {
	return NewEventAt(typ, subjectID, content, uint64(time.Now().UnixMilli()))
}

// NewEventAt builds an event with an explicit origin timestamp.
func NewEventAt(typ EventType, subjectID, content string, timestamp uint64) (*Event, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("empty subject id")
	}
	id := uuid.NewString()
	return &Event{
		ID:        id,
		Type:      typ,
		SubjectID: subjectID,
		Content:   content,
		Timestamp: timestamp,
		Hash:      ComputeHash(id, typ, subjectID, timestamp, content),
	}, nil
}

// Recompute returns the hash implied by the event's current fields.
// Used to validate events received from peers.
func (e *Event) Recompute() string {
	return ComputeHash(e.ID, e.Type, e.SubjectID, e.Timestamp, e.Content)
}
