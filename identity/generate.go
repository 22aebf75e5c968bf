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

package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/refinio/one-connect/crypto/keys"
)

// GenerateOptions describes a freshly minted identity.
type GenerateOptions struct {
	PersonEmail  string
	InstanceName string
	URL          string
}

// Generate creates a new person/instance key quartet (two X25519 pairs for
// encryption, two Ed25519 pairs for signing) and returns both the public
// File and its SecretFile companion.
func Generate(opts GenerateOptions) (*File, *SecretFile, error) {
	personEnc, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate person encryption key: %w", err)
	}
	instanceEnc, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate instance encryption key: %w", err)
	}
	personSign, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate person signing key: %w", err)
	}
	instanceSign, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("identity: generate instance signing key: %w", err)
	}

	personPub, ok := personEnc.PublicKey().(*ecdh.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected person encryption public key type")
	}
	instancePub, ok := instanceEnc.PublicKey().(*ecdh.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected instance encryption public key type")
	}
	personSignPub, ok := personSign.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected person signing public key type")
	}
	instanceSignPub, ok := instanceSign.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected instance signing public key type")
	}

	f := File{
		PersonEmail:           opts.PersonEmail,
		InstanceName:          opts.InstanceName,
		URL:                   opts.URL,
		PersonPublicKey:       hex.EncodeToString(personPub.Bytes()),
		InstancePublicKey:     hex.EncodeToString(instancePub.Bytes()),
		PersonPublicSignKey:   hex.EncodeToString(personSignPub),
		InstancePublicSignKey: hex.EncodeToString(instanceSignPub),
	}

	sig, err := instanceSign.Sign(f.assertionPayload())
	if err != nil {
		return nil, nil, fmt.Errorf("identity: sign instance assertion: %w", err)
	}
	f.InstanceAssertion = hex.EncodeToString(sig)

	personPriv, ok := personEnc.PrivateKey().(*ecdh.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected person encryption private key type")
	}
	instancePriv, ok := instanceEnc.PrivateKey().(*ecdh.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected instance encryption private key type")
	}
	personSignPriv, ok := personSign.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected person signing private key type")
	}
	instanceSignPriv, ok := instanceSign.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("identity: unexpected instance signing private key type")
	}

	sf := SecretFile{
		File:                  f,
		PersonSecretKey:       hex.EncodeToString(personPriv.Bytes()),
		InstanceSecretKey:     hex.EncodeToString(instancePriv.Bytes()),
		PersonSecretSignKey:   hex.EncodeToString(personSignPriv.Seed()),
		InstanceSecretSignKey: hex.EncodeToString(instanceSignPriv.Seed()),
	}

	return &f, &sf, nil
}
