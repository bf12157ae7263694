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

package flippedif

import "github.com/rocon-io/gateway/internal/model"

// InboxEntry is one already-decrypted entry read from this gateway's own
// hub inbox.
type InboxEntry struct {
	Status        model.FlipStatus
	SourceGateway string
	Connection    model.Connection
}

// Decision is what the watcher should do with one inbox entry.
type Decision int

const (
	// DecisionSkip leaves the entry untouched this tick (BLOCKED/RESEND
	// entries, or a source that is no longer discoverable).
	DecisionSkip Decision = iota
	// DecisionBlock writes status := BLOCKED without registering.
	DecisionBlock
	// DecisionRegister realizes entry.Connection via the mirror and, on
	// success, writes status := ACCEPTED.
	DecisionRegister
)

// DecideInbound applies the receiver-side flip protocol rule for a single
// inbox entry: BLOCKED/RESEND entries are always skipped; entries whose
// source is not currently discoverable on any connected hub are skipped;
// otherwise firewall mode blocks, else the entry is realized.
func DecideInbound(entry InboxEntry, firewall bool, sourceDiscoverable bool) Decision {
	if entry.Status == model.FlipBlocked || entry.Status == model.FlipResend {
		return DecisionSkip
	}
	if !sourceDiscoverable {
		return DecisionSkip
	}
	if firewall {
		return DecisionBlock
	}
	return DecisionRegister
}

// AssembleStatus combines the five per-topic statuses of an action flip
// into the single status reported for the RemoteRule as a whole.
func AssembleStatus(parts []model.FlipStatus) model.FlipStatus {
	return model.AssembleActionStatus(parts)
}
