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

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/flippedif"
	"github.com/rocon-io/gateway/internal/model"
)

// flipEntry is one flip mailbox element: a single fundamental-type Rule
// (action rules arrive here already exploded into five of these) plus the
// sealed connection details and lifecycle status.
type flipEntry struct {
	Rule          model.Rule       `json:"rule"`
	Status        model.FlipStatus `json:"status"`
	SourceGateway string           `json:"source"`
	SealedConn    string           `json:"conn"`
}

func encodeFlipEntry(e flipEntry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("hub: marshal flip entry: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeFlipEntry(wire string) (flipEntry, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return flipEntry{}, fmt.Errorf("hub: decode flip entry: %w", err)
	}
	var e flipEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return flipEntry{}, fmt.Errorf("hub: unmarshal flip entry: %w", err)
	}
	return e, nil
}

// readFlipIns returns every entry currently posted to target's inbox,
// paired with the exact wire string it was stored under so callers can
// remove or replace specific entries.
func (h *Hub) readFlipIns(ctx context.Context, target string) ([]flipEntry, []string, error) {
	wires, err := h.store.SMembers(ctx, flipInsKey(target))
	if err != nil {
		return nil, nil, fmt.Errorf("hub: read flip_ins for %s: %w", target, err)
	}
	entries := make([]flipEntry, 0, len(wires))
	kept := make([]string, 0, len(wires))
	for _, wire := range wires {
		entry, err := decodeFlipEntry(wire)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
		kept = append(kept, wire)
	}
	return entries, kept, nil
}

func findFlipEntry(entries []flipEntry, rule model.Rule, source string) int {
	for i, e := range entries {
		if e.Rule == rule && e.SourceGateway == source {
			return i
		}
	}
	return -1
}

// SendFlipRequest busy-polls for receiver's public key (bounded by
// timeout), pre-emptively removes any stale existing entry this gateway
// posted for rule, then encrypts conn and posts a fresh PENDING entry.
func (h *Hub) SendFlipRequest(ctx context.Context, receiver string, rule model.Rule, conn model.Connection, pollInterval, timeout time.Duration) error {
	pub, err := h.waitForPublicKey(ctx, receiver, pollInterval, timeout)
	if err != nil {
		return err
	}

	sealed, err := codec.EncryptConnection(conn, pub)
	if err != nil {
		return fmt.Errorf("hub: encrypt connection for %s: %w", receiver, err)
	}

	entries, wires, err := h.readFlipIns(ctx, receiver)
	if err != nil {
		return err
	}

	pipe := h.store.Pipeline()
	if idx := findFlipEntry(entries, rule, h.name); idx >= 0 {
		pipe.SRem(flipInsKey(receiver), wires[idx])
	}
	newWire, err := encodeFlipEntry(flipEntry{
		Rule:          rule,
		Status:        model.FlipPending,
		SourceGateway: h.name,
		SealedConn:    sealed,
	})
	if err != nil {
		return err
	}
	pipe.SAdd(flipInsKey(receiver), newWire)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: post flip request to %s: %w", receiver, err)
	}
	if h.mx != nil {
		h.mx.RecordFlipPosted(receiver)
	}
	return nil
}

func (h *Hub) waitForPublicKey(ctx context.Context, receiver string, pollInterval, timeout time.Duration) (codec.PublicKey, error) {
	deadline := time.Now().Add(timeout)
	for {
		pub, ok, err := h.remotePublicKey(ctx, receiver)
		if err != nil {
			return codec.PublicKey{}, err
		}
		if ok {
			return pub, nil
		}
		if time.Now().After(deadline) {
			return codec.PublicKey{}, ErrPublicKeyTimeout
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return codec.PublicKey{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// SendUnflipRequest removes this gateway's existing entry for rule from
// receiver's inbox, if any. A missing entry is not an error: unflip is
// idempotent.
func (h *Hub) SendUnflipRequest(ctx context.Context, receiver string, rule model.Rule) error {
	entries, wires, err := h.readFlipIns(ctx, receiver)
	if err != nil {
		return err
	}
	idx := findFlipEntry(entries, rule, h.name)
	if idx < 0 {
		return nil
	}
	if err := h.store.SRem(ctx, flipInsKey(receiver), wires[idx]); err != nil {
		return fmt.Errorf("hub: unflip %s from %s: %w", rule, receiver, err)
	}
	return nil
}

// RealizableFlip is one decrypted inbox entry paired with the decision the
// receiver-side flip protocol reached for it.
type RealizableFlip struct {
	Rule          model.Rule
	SourceGateway string
	Connection    model.Connection
	Decision      flippedif.Decision
}

// DrainInbox reads this gateway's own flip_ins set, decrypts every entry,
// and applies the receiver-side protocol decision. BLOCKED decisions are
// written back immediately; REGISTER decisions are returned for the caller
// to realize via the mirror and then confirm with UpdateFlipInStatus.
func (h *Hub) DrainInbox(ctx context.Context, firewall bool) ([]RealizableFlip, error) {
	entries, wires, err := h.readFlipIns(ctx, h.name)
	if err != nil {
		return nil, err
	}

	known, err := h.ListRemoteGatewayNames(ctx)
	if err != nil {
		return nil, err
	}
	discoverable := make(map[string]bool, len(known))
	for _, name := range known {
		discoverable[name] = true
	}

	out := make([]RealizableFlip, 0, len(entries))
	for i, entry := range entries {
		conn, err := codec.DecryptConnection(entry.SealedConn, h.priv)
		if err != nil {
			continue
		}
		decision := flippedif.DecideInbound(flippedif.InboxEntry{
			Status:        entry.Status,
			SourceGateway: entry.SourceGateway,
			Connection:    conn,
		}, firewall, discoverable[entry.SourceGateway])

		if decision == flippedif.DecisionBlock {
			if err := h.rewriteFlipEntryStatus(ctx, wires[i], entry, model.FlipBlocked); err != nil {
				return out, err
			}
		}
		if h.mx != nil {
			h.mx.RecordFlipReceived(decisionLabel(decision))
		}
		out = append(out, RealizableFlip{
			Rule:          entry.Rule,
			SourceGateway: entry.SourceGateway,
			Connection:    conn,
			Decision:      decision,
		})
	}
	return out, nil
}

func decisionLabel(d flippedif.Decision) string {
	switch d {
	case flippedif.DecisionRegister:
		return "registered"
	case flippedif.DecisionBlock:
		return "blocked"
	default:
		return "skipped"
	}
}

// UpdateFlipInStatus rewrites the status of this gateway's inbox entry
// identified by (rule, source). Used after the mirror realizes a
// DecisionRegister entry (-> ACCEPTED) or fails to (-> BLOCKED/UNKNOWN).
func (h *Hub) UpdateFlipInStatus(ctx context.Context, rule model.Rule, source string, status model.FlipStatus) error {
	entries, wires, err := h.readFlipIns(ctx, h.name)
	if err != nil {
		return err
	}
	idx := findFlipEntry(entries, rule, source)
	if idx < 0 {
		return ErrFlipEntryNotFound
	}
	return h.rewriteFlipEntryStatus(ctx, wires[idx], entries[idx], status)
}

func (h *Hub) rewriteFlipEntryStatus(ctx context.Context, oldWire string, entry flipEntry, status model.FlipStatus) error {
	entry.Status = status
	newWire, err := encodeFlipEntry(entry)
	if err != nil {
		return err
	}
	pipe := h.store.Pipeline()
	pipe.SRem(flipInsKey(h.name), oldWire)
	pipe.SAdd(flipInsKey(h.name), newWire)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: update flip entry status: %w", err)
	}
	return nil
}

// resendAllFlipIns forces every entry in this gateway's own inbox to RESEND,
// so senders notice on their next status poll and re-encrypt for a rotated
// public key.
func (h *Hub) resendAllFlipIns(ctx context.Context) error {
	entries, wires, err := h.readFlipIns(ctx, h.name)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	pipe := h.store.Pipeline()
	for i, entry := range entries {
		entry.Status = model.FlipResend
		newWire, err := encodeFlipEntry(entry)
		if err != nil {
			return err
		}
		pipe.SRem(flipInsKey(h.name), wires[i])
		pipe.SAdd(flipInsKey(h.name), newWire)
	}
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: resend all flip_ins: %w", err)
	}
	return nil
}

// GetFlipRequestStatus returns the status of this gateway's posted entry
// for rule on receiver's inbox, or FlipUnknown if no such entry exists yet.
func (h *Hub) GetFlipRequestStatus(ctx context.Context, receiver string, rule model.Rule) (model.FlipStatus, error) {
	entries, _, err := h.readFlipIns(ctx, receiver)
	if err != nil {
		return model.FlipUnknown, err
	}
	idx := findFlipEntry(entries, rule, h.name)
	if idx < 0 {
		return model.FlipUnknown, nil
	}
	return entries[idx].Status, nil
}

// GetMultipleFlipRequestStatus assembles the statuses of several exploded
// action sub-rules (see model.ExplodeAction) into the single status
// reported for the action as a whole.
func (h *Hub) GetMultipleFlipRequestStatus(ctx context.Context, receiver string, rules []model.Rule) (model.FlipStatus, error) {
	statuses := make([]model.FlipStatus, 0, len(rules))
	for _, rule := range rules {
		status, err := h.GetFlipRequestStatus(ctx, receiver, rule)
		if err != nil {
			return model.FlipUnknown, err
		}
		statuses = append(statuses, status)
	}
	return model.AssembleActionStatus(statuses), nil
}
