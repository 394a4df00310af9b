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

package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elibdev/lifelog/internal/logger"
)

// keyFile is the persisted identity format. Only the two private
// scalars are stored; public keys are rederived on load.
type keyFile struct {
	SignPrivate    string `json:"sign_private"`
	EncryptPrivate string `json:"encrypt_private"`
}

// CreateOrLoad restores a previously persisted identity from path, or
// generates a fresh one and persists it when the file does not exist.
// An existing but unreadable or malformed file is an error; callers
// treat it as fatal at startup.
func CreateOrLoad(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return load(data)
	}
	if !os.IsNotExist(err) {
		return nil, logger.NewSyncError(logger.ErrCodeStorageError,
			fmt.Sprintf("key file %s exists but cannot be read", path), err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := persist(id, path); err != nil {
		return nil, err
	}
	logger.Info("generated new identity",
		logger.String("user_id", id.UserID()),
		logger.String("key_file", path))
	return id, nil
}

func load(data []byte) (*Identity, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, logger.NewSyncError(logger.ErrCodeStorageError, "malformed key file", err)
	}
	signSeed, err := base64.StdEncoding.DecodeString(kf.SignPrivate)
	if err != nil {
		return nil, logger.NewSyncError(logger.ErrCodeStorageError, "malformed sign_private", err)
	}
	agreeSeed, err := base64.StdEncoding.DecodeString(kf.EncryptPrivate)
	if err != nil {
		return nil, logger.NewSyncError(logger.ErrCodeStorageError, "malformed encrypt_private", err)
	}
	id, err := fromSeeds(signSeed, agreeSeed)
	if err != nil {
		return nil, logger.NewSyncError(logger.ErrCodeStorageError, "invalid key material", err)
	}
	return id, nil
}

// persist writes the identity with owner-only permissions.
func persist(id *Identity, path string) error {
	kf := keyFile{
		SignPrivate:    base64.StdEncoding.EncodeToString(id.signPriv.Seed()),
		EncryptPrivate: base64.StdEncoding.EncodeToString(id.agreePriv.Bytes()),
	}
	data, err := json.Marshal(kf)
	if err != nil {
		return logger.NewSyncError(logger.ErrCodeStorageError, "failed to encode key file", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return logger.NewSyncError(logger.ErrCodeStorageError, "failed to create key directory", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return logger.NewSyncError(logger.ErrCodeStorageError, "failed to write key file", err)
	}
	return nil
}
