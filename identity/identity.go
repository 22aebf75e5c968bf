// one-connect - ONE Connection Substrate
// Copyright (C) 2025 refinio
//
// This file is part of one-connect.
//
// one-connect is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// one-connect is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with one-connect. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package identity reads and writes the plaintext identity files consumed
// by route constructors: a public identity describing a person/instance
// pair of X25519 encryption keys and Ed25519 signing keys, and an optional
// companion file carrying the matching secret keys. The two key pairs are
// never converted into one another; encryption and signing live on
// independent curves for independent purposes.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/refinio/one-connect/crypto/keys"
	"github.com/refinio/one-connect/cryptoapi"
)

// File is the public identity document: `{personEmail, instanceName,
// personPublicKey, instancePublicKey, personPublicSignKey,
// instancePublicSignKey, instanceAssertion, url?}`, hex-encoded per-key.
// instanceAssertion is the instance signing key's signature over the
// document's other fields, so a route constructor can tell a genuine
// identity file from one whose fields were edited or merged by hand.
type File struct {
	PersonEmail           string `json:"personEmail"`
	InstanceName          string `json:"instanceName"`
	PersonPublicKey       string `json:"personPublicKey"`
	InstancePublicKey     string `json:"instancePublicKey"`
	PersonPublicSignKey   string `json:"personPublicSignKey"`
	InstancePublicSignKey string `json:"instancePublicSignKey"`
	InstanceAssertion     string `json:"instanceAssertion"`
	URL                   string `json:"url,omitempty"`
}

// assertionPayload is the byte sequence the instance signing key signs and
// verifies. Field order is fixed and delimited so the signature is stable
// across JSON re-encodings that don't touch the fields themselves.
func (f *File) assertionPayload() []byte {
	return []byte(strings.Join([]string{
		f.PersonEmail, f.InstanceName, f.URL,
		f.PersonPublicKey, f.InstancePublicKey,
		f.PersonPublicSignKey, f.InstancePublicSignKey,
	}, "|"))
}

// VerifyAssertion checks that InstanceAssertion is a valid signature, by
// InstancePublicSignKey, over the rest of the file's fields. Route
// constructors call this before trusting a loaded identity file.
func (f *File) VerifyAssertion() error {
	sig, err := hex.DecodeString(f.InstanceAssertion)
	if err != nil {
		return fmt.Errorf("instanceAssertion: invalid hex: %w", err)
	}
	pubRaw, err := hex.DecodeString(f.InstancePublicSignKey)
	if err != nil {
		return fmt.Errorf("instancePublicSignKey: invalid hex: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return fmt.Errorf("instancePublicSignKey: want %d bytes, got %d", ed25519.PublicKeySize, len(pubRaw))
	}
	verifier := keys.NewEd25519PublicKeyOnly(ed25519.PublicKey(pubRaw), "")
	if err := verifier.Verify(f.assertionPayload(), sig); err != nil {
		return fmt.Errorf("instanceAssertion: %w", err)
	}
	return nil
}

// SecretFile is the `*_secret.id.json` companion: the same identity plus
// the secret halves of both key pairs.
type SecretFile struct {
	File
	PersonSecretKey        string `json:"personSecretKey"`
	InstanceSecretKey      string `json:"instanceSecretKey"`
	PersonSecretSignKey    string `json:"personSecretSignKey"`
	InstanceSecretSignKey  string `json:"instanceSecretSignKey"`
}

// LoadFile reads and parses a public identity file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("identity: %s: %w", path, err)
	}
	return &f, nil
}

// LoadSecretFile reads and parses a `*_secret.id.json` file.
func LoadSecretFile(path string) (*SecretFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var sf SecretFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	if err := sf.Validate(); err != nil {
		return nil, fmt.Errorf("identity: %s: %w", path, err)
	}
	if _, err := hex.DecodeString(sf.PersonSecretKey); err != nil {
		return nil, fmt.Errorf("identity: %s: personSecretKey: %w", path, err)
	}
	if _, err := hex.DecodeString(sf.InstanceSecretKey); err != nil {
		return nil, fmt.Errorf("identity: %s: instanceSecretKey: %w", path, err)
	}
	return &sf, nil
}

// Save writes the public identity file as indented JSON.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Save writes the secret identity file as indented JSON with owner-only
// permissions.
func (sf *SecretFile) Save(path string) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that every required field is populated and that the two
// public keys decode to 32 bytes.
func (f *File) Validate() error {
	if strings.TrimSpace(f.PersonPublicKey) == "" {
		return fmt.Errorf("personPublicKey is required")
	}
	if strings.TrimSpace(f.InstancePublicKey) == "" {
		return fmt.Errorf("instancePublicKey is required")
	}
	if strings.TrimSpace(f.PersonPublicSignKey) == "" {
		return fmt.Errorf("personPublicSignKey is required")
	}
	if strings.TrimSpace(f.InstancePublicSignKey) == "" {
		return fmt.Errorf("instancePublicSignKey is required")
	}
	if strings.TrimSpace(f.InstanceAssertion) == "" {
		return fmt.Errorf("instanceAssertion is required")
	}
	if _, err := decodeKey(f.PersonPublicKey); err != nil {
		return fmt.Errorf("personPublicKey: %w", err)
	}
	if _, err := decodeKey(f.InstancePublicKey); err != nil {
		return fmt.Errorf("instancePublicKey: %w", err)
	}
	if err := f.VerifyAssertion(); err != nil {
		return err
	}
	return nil
}

// InstancePublicKeyBytes decodes the instance encryption key, the key used
// to establish a CryptoApi session with this identity (spec's route
// constructors key off the instance key, not the person key).
func (f *File) InstancePublicKeyBytes() (cryptoapi.PublicKey, error) {
	return decodeKey(f.InstancePublicKey)
}

// PersonPublicKeyBytes decodes the person encryption key.
func (f *File) PersonPublicKeyBytes() (cryptoapi.PublicKey, error) {
	return decodeKey(f.PersonPublicKey)
}

// InstanceSecretKeyBytes decodes the instance secret encryption key.
func (sf *SecretFile) InstanceSecretKeyBytes() (cryptoapi.SecretKey, error) {
	return decodeSecretKey(sf.InstanceSecretKey)
}

// PersonSecretKeyBytes decodes the person secret encryption key.
func (sf *SecretFile) PersonSecretKeyBytes() (cryptoapi.SecretKey, error) {
	return decodeSecretKey(sf.PersonSecretKey)
}

func decodeKey(s string) (cryptoapi.PublicKey, error) {
	var pk cryptoapi.PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != cryptoapi.KeySize {
		return pk, cryptoapi.ErrInvalidKeyLength
	}
	copy(pk[:], raw)
	return pk, nil
}

func decodeSecretKey(s string) (cryptoapi.SecretKey, error) {
	var sk cryptoapi.SecretKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return sk, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != cryptoapi.KeySize {
		return sk, cryptoapi.ErrInvalidKeyLength
	}
	copy(sk[:], raw)
	return sk, nil
}
