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

package connection

import "fmt"

// ConnectionError is the substrate's structured error, following the same
// Code/Message/Cause shape as the teacher's logger.SageError so the two
// interoperate with errors.Is/errors.As via Unwrap.
type ConnectionError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is comparison by Code, so callers can match against
// the sentinels below even when Message/Cause differ per occurrence.
func (e *ConnectionError) Is(target error) bool {
	other, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

func newError(code, message string) *ConnectionError {
	return &ConnectionError{Code: code, Message: message}
}

func wrapError(code, message string, cause error) *ConnectionError {
	return &ConnectionError{Code: code, Message: message, Cause: cause}
}

// Sentinel errors named by the substrate's error taxonomy (§7).
var (
	ErrConnectionClosed      = newError("CONNECTION_CLOSED", "connection closed")
	ErrTimeout               = newError("TIMEOUT", "operation timed out")
	ErrQueueOverflow         = newError("QUEUE_OVERFLOW", "promise queue overflow")
	ErrUnexpectedMessageType = newError("UNEXPECTED_MESSAGE_TYPE", "unexpected message type")
	ErrAuthenticationFailure = newError("AUTHENTICATION_FAILURE", "authentication failure")
	ErrDecryptionFailure     = newError("DECRYPTION_FAILURE", "decryption failure")
	ErrRouteStartFailure     = newError("ROUTE_START_FAILURE", "route failed to start")
	ErrNoGroup               = newError("NO_GROUP", "no group")
	ErrProtocolError         = newError("PROTOCOL_ERROR", "protocol error")
)

// CloseReason strings used verbatim as the Connection's closed-event reason.
const (
	CloseReasonDecryptionFailure   = "decryption failure"
	CloseReasonPingPongTimeout     = "ping/pong: connection timed out"
	CloseReasonAuthenticationFail  = "authentication failure"
	CloseReasonNoListenerForTarget = "no listener for target"
	CloseReasonDuplicate           = "duplicate"
	CloseReasonReplaced            = "replaced"
	CloseReasonNoGroup             = "no group"
)
