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

import "github.com/elibdev/lifelog/gset"

// Authentication headers carried by every non-challenge request.
const (
	// HeaderAuthResponse is base64 of a JSON authResponse object.
	HeaderAuthResponse = "X-Auth-Response"
	// HeaderEncryptKey is the caller's X25519 public key, base64.
	HeaderEncryptKey = "X-Encrypt-Key"
)

// Endpoint paths of the sync exchange.
const (
	PathChallenge = "/sync/challenge"
	PathInventory = "/sync/inventory"
	PathPull      = "/sync/pull"
	PathPush      = "/sync/push"
)

// challengeReply is the cleartext response of the challenge endpoint.
type challengeReply struct {
	Challenge        string `json:"challenge"`
	ServerEncryptKey string `json:"serverEncryptKey"`
}

// authResponse proves possession of the signing key for a challenge.
// Signature is over the canonical JSON of {"challenge": <value>}.
type authResponse struct {
	Challenge     string `json:"challenge"`
	Signature     string `json:"signature"`
	SignPublicKey string `json:"signPublicKey"`
}

// inventoryBody is the decrypted payload of the inventory response.
type inventoryBody struct {
	Hashes []string `json:"hashes"`
}

// eventsBody is the decrypted payload of pull responses and push requests.
type eventsBody struct {
	Events []*gset.Event `json:"events"`
}

// pushReply is the decrypted payload of the push response.
type pushReply struct {
	Added int `json:"added"`
}
