// SPDX-License-Identifier: AGPL-3.0-or-later
// rocon-gateway - a multi-master publish/subscribe bridge
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package hub

import "errors"

var (
	// ErrGatewayNotFound is returned when a named remote gateway has no
	// entry in the hub's gateway list.
	ErrGatewayNotFound = errors.New("hub: gateway not found")
	// ErrPublicKeyTimeout is returned by SendFlipRequest when the
	// receiver's public key does not appear within the configured timeout.
	ErrPublicKeyTimeout = errors.New("hub: timed out waiting for receiver public key")
	// ErrNotRegistered is returned by operations that require this
	// gateway to have successfully registered first.
	ErrNotRegistered = errors.New("hub: this gateway is not registered")
	// ErrFlipEntryNotFound is returned when a status update names a rule
	// with no matching mailbox entry. An unflip of a missing entry is a
	// no-op and does not return it.
	ErrFlipEntryNotFound = errors.New("hub: no matching flip entry")
)
