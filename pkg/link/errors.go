// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

package link

import "errors"

// Failure taxonomy. Errors returned by the controller wrap exactly one of
// these so callers can classify them with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrHandshakeFailure     = errors.New("handshake failed")
	ErrVerificationFailure  = errors.New("link verification failed")
	ErrTimeout              = errors.New("connection attempt timed out")
	ErrTransportError       = errors.New("transport error")
	ErrMalformedInput       = errors.New("malformed input")
	ErrAttemptCancelled     = errors.New("connection attempt cancelled")
	ErrClosed               = errors.New("link controller closed")
)
