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

package cryptoapi

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// counterNonce encodes a 64-bit counter as a chacha20poly1305.NonceSizeX
// (24-byte) nonce, big-endian, right-aligned: the first 16 bytes are zero
// and the trailing 8 bytes carry the counter. Both peers keep one counter
// per direction, starting at 0, and increment after each use.
func counterNonce(counter uint64) [chacha20poly1305.NonceSizeX]byte {
	var nonce [chacha20poly1305.NonceSizeX]byte
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSizeX-8:], counter)
	return nonce
}

// counterFromNonce decodes the counter encoded by counterNonce, ignoring
// the leading zero padding.
func counterFromNonce(nonce []byte) uint64 {
	if len(nonce) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(nonce[len(nonce)-8:])
}
