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

package hubmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/rocon-io/gateway/internal/hub"
	"github.com/rocon-io/gateway/internal/model"
)

// HubError pairs a hub URI with the error one fan-out operation produced
// against it, so a single failing hub never aborts the others.
type HubError struct {
	HubURI string
	Err    error
}

func (e HubError) Error() string {
	return fmt.Sprintf("hub %s: %v", e.HubURI, e.Err)
}

// AdvertiseAll publishes conn on every connected hub, returning one
// HubError per hub that failed.
func (m *Manager) AdvertiseAll(ctx context.Context, conn model.Connection) []HubError {
	var errs []HubError
	for _, h := range m.snapshot() {
		if err := h.Advertise(ctx, conn); err != nil {
			errs = append(errs, HubError{HubURI: h.URI, Err: err})
		}
	}
	return errs
}

// UnadvertiseAll removes conn from every connected hub's advertisement set.
func (m *Manager) UnadvertiseAll(ctx context.Context, conn model.Connection) []HubError {
	var errs []HubError
	for _, h := range m.snapshot() {
		if err := h.Unadvertise(ctx, conn); err != nil {
			errs = append(errs, HubError{HubURI: h.URI, Err: err})
		}
	}
	return errs
}

// SendFlipRequest locates the hub that currently registers receiver and
// posts rule/conn to its inbox.
func (m *Manager) SendFlipRequest(ctx context.Context, receiver string, rule model.Rule, conn model.Connection, pollInterval time.Duration) error {
	h, err := m.hubForGateway(ctx, receiver)
	if err != nil {
		return err
	}
	return h.SendFlipRequest(ctx, receiver, rule, conn, pollInterval, m.flipSendTimeout)
}

// SendUnflipRequest locates the hub that currently registers receiver and
// removes this gateway's flip entry for rule.
func (m *Manager) SendUnflipRequest(ctx context.Context, receiver string, rule model.Rule) error {
	h, err := m.hubForGateway(ctx, receiver)
	if err != nil {
		// The receiver is no longer discoverable on any hub; nothing to
		// unflip.
		return nil
	}
	return h.SendUnflipRequest(ctx, receiver, rule)
}

// GetMultipleFlipRequestStatus locates the hub that currently registers
// receiver and assembles the status of rules there.
func (m *Manager) GetMultipleFlipRequestStatus(ctx context.Context, receiver string, rules []model.Rule) (model.FlipStatus, error) {
	h, err := m.hubForGateway(ctx, receiver)
	if err != nil {
		return model.FlipUnknown, err
	}
	return h.GetMultipleFlipRequestStatus(ctx, receiver, rules)
}

// InboxFlip pairs a RealizableFlip with the hub its inbox entry was read
// from, so the caller can report the realization result back to the right
// hub.
type InboxFlip struct {
	HubURI string
	hub.RealizableFlip
}

// DrainAllInboxes reads and decides every connected hub's inbox for this
// gateway.
func (m *Manager) DrainAllInboxes(ctx context.Context, firewall bool) ([]InboxFlip, []HubError) {
	var out []InboxFlip
	var errs []HubError
	for _, h := range m.snapshot() {
		flips, err := h.DrainInbox(ctx, firewall)
		if err != nil {
			errs = append(errs, HubError{HubURI: h.URI, Err: err})
			continue
		}
		for _, f := range flips {
			out = append(out, InboxFlip{HubURI: h.URI, RealizableFlip: f})
		}
	}
	return out, errs
}

// UpdateFlipInStatus writes back the outcome of realizing (or refusing) an
// inbox entry read from hubURI.
func (m *Manager) UpdateFlipInStatus(ctx context.Context, hubURI string, rule model.Rule, source string, status model.FlipStatus) error {
	m.mu.Lock()
	h, ok := m.hubs[hubURI]
	m.mu.Unlock()
	if !ok {
		return ErrNoSuchHub
	}
	return h.UpdateFlipInStatus(ctx, rule, source, status)
}

// PublishNetworkStatisticsAll writes stats to every connected hub.
func (m *Manager) PublishNetworkStatisticsAll(ctx context.Context, stats hub.NetworkStatistics) []HubError {
	var errs []HubError
	for _, h := range m.snapshot() {
		if err := h.PublishNetworkStatistics(ctx, stats); err != nil {
			errs = append(errs, HubError{HubURI: h.URI, Err: err})
		}
	}
	return errs
}

// GCStaleGateways sweeps every connected hub for gateways whose ping TTL
// expired without a liveness goroutine noticing, e.g. a process that
// registered and crashed outright. Returns the total number of gateways
// removed across all hubs, plus one HubError per hub the sweep failed on.
func (m *Manager) GCStaleGateways(ctx context.Context) (int, []HubError) {
	var errs []HubError
	total := 0
	for _, h := range m.snapshot() {
		n, err := h.GCStaleGateways(ctx)
		total += n
		if err != nil {
			errs = append(errs, HubError{HubURI: h.URI, Err: err})
		}
	}
	return total, errs
}
