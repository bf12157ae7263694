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

// Package hub is a client for one connected hub: the shared key/value store
// that every gateway in a multi-master network registers against,
// advertises into, and exchanges flip mailbox entries through.
package hub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/kv"
	"github.com/rocon-io/gateway/internal/metrics"
)

// Hub is this gateway's connection to one hub datastore. A gateway may hold
// several of these at once (one per configured hub URI); the hub manager
// owns that fan-out.
type Hub struct {
	URI string

	store kv.KV
	name  string
	pub   codec.PublicKey
	priv  codec.PrivateKey
	mx    *metrics.Metrics

	pingFrequency time.Duration
	maxTTL        time.Duration

	mu           sync.Mutex
	lost         bool
	onLost       func(*Hub)
	stopPing     chan struct{}
	pingDone     chan struct{}
	pingStarted  bool
}

// New wraps store as a hub client identified by name, using keypair
// (pub, priv) to seal and open flip mailbox entries.
func New(uri string, store kv.KV, name string, pub codec.PublicKey, priv codec.PrivateKey, mx *metrics.Metrics, pingFrequency, maxTTL time.Duration) *Hub {
	return &Hub{
		URI:           uri,
		store:         store,
		name:          name,
		pub:           pub,
		priv:          priv,
		mx:            mx,
		pingFrequency: pingFrequency,
		maxTTL:        maxTTL,
	}
}

// Name returns the gateway name this hub client registers under.
func (h *Hub) Name() string { return h.name }

// RegisterGateway atomically adds this gateway to the hub's gateway list and
// publishes its ip, firewall mode, public key, and an initial ping. If a
// public key was already stored under this name (an earlier process
// instance that registered and died without unregistering), every existing
// flip_ins entry targeting this gateway is forced to RESEND so senders
// re-encrypt against the new key.
func (h *Hub) RegisterGateway(ctx context.Context, ip string, firewall bool) error {
	oldPub, err := h.store.Get(ctx, publicKeyKey(h.name))
	if err != nil {
		return fmt.Errorf("hub: read existing public key: %w", err)
	}
	newPub := codec.SerializeKey(h.pub)

	pipe := h.store.Pipeline()
	pipe.SAdd(gatewayList, gatewayKey(h.name))
	pipe.Set(firewallKey(h.name), []byte(strconv.FormatBool(firewall)))
	pipe.Set(ipKey(h.name), []byte(ip))
	pipe.Set(publicKeyKey(h.name), []byte(newPub))
	pipe.Set(pingKey(h.name), []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
	pipe.Expire(pingKey(h.name), h.maxTTL)
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: register gateway: %w", err)
	}

	if len(oldPub) > 0 && string(oldPub) != newPub {
		if err := h.resendAllFlipIns(ctx); err != nil {
			return fmt.Errorf("hub: resend flip_ins after key rotation: %w", err)
		}
	}

	h.mu.Lock()
	h.lost = false
	h.mu.Unlock()
	return nil
}

// UnregisterNamedGateway removes a named gateway's entire key footprint from
// the hub and drops it from the gateway list.
func (h *Hub) UnregisterNamedGateway(ctx context.Context, name string) error {
	var cursor uint64
	for {
		keys, next, err := h.store.Scan(ctx, cursor, gatewayKey(name)+"*", 100)
		if err != nil {
			return fmt.Errorf("hub: scan gateway keys: %w", err)
		}
		for _, key := range keys {
			if err := h.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("hub: delete %s: %w", key, err)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if err := h.store.SRem(ctx, gatewayList, gatewayKey(name)); err != nil {
		return fmt.Errorf("hub: remove from gateway list: %w", err)
	}
	return nil
}

// IsNamedGatewayRegistered reports whether name currently appears in the
// hub's gateway list.
func (h *Hub) IsNamedGatewayRegistered(ctx context.Context, name string) (bool, error) {
	ok, err := h.store.SIsMember(ctx, gatewayList, gatewayKey(name))
	if err != nil {
		return false, fmt.Errorf("hub: check gateway registration: %w", err)
	}
	return ok, nil
}

// MarkNamedGatewayAvailable records that name completed its role setup
// (hub connection established and initial reconciliation run) and is ready
// to serve flips and pulls.
func (h *Hub) MarkNamedGatewayAvailable(ctx context.Context, name string, available bool) error {
	return h.store.Set(ctx, availableKey(name), []byte(strconv.FormatBool(available)))
}

// StartLivenessPing launches the background ping loop that keeps this
// gateway's presence TTL alive on the hub. onLost fires at most once per
// Start/Stop cycle, the first time a ping round fails or this gateway falls
// out of the gateway list.
func (h *Hub) StartLivenessPing(ctx context.Context, onLost func(*Hub)) {
	h.mu.Lock()
	if h.pingStarted {
		h.mu.Unlock()
		return
	}
	h.pingStarted = true
	h.onLost = onLost
	h.stopPing = make(chan struct{})
	h.pingDone = make(chan struct{})
	h.mu.Unlock()

	go h.pingLoop(ctx)
}

// StopLivenessPing stops the background ping loop and waits for it to exit.
func (h *Hub) StopLivenessPing() {
	h.mu.Lock()
	if !h.pingStarted {
		h.mu.Unlock()
		return
	}
	stop := h.stopPing
	done := h.pingDone
	h.pingStarted = false
	h.mu.Unlock()

	close(stop)
	<-done
}

func (h *Hub) pingLoop(ctx context.Context) {
	defer close(h.pingDone)
	ticker := time.NewTicker(h.pingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopPing:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingOnce(ctx)
		}
	}
}

func (h *Hub) pingOnce(ctx context.Context) {
	start := time.Now()
	err := h.store.Set(ctx, pingKey(h.name), []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
	if err == nil {
		err = h.store.Expire(ctx, pingKey(h.name), h.maxTTL)
	}
	if err == nil {
		var registered bool
		registered, err = h.IsNamedGatewayRegistered(ctx, h.name)
		if err == nil && !registered {
			err = ErrNotRegistered
		}
	}
	if h.mx != nil {
		h.mx.RecordHubPingLatency(h.URI, time.Since(start).Seconds())
		h.mx.SetHubConnected(h.URI, err == nil)
	}
	if err != nil {
		h.reportLost()
	}
}

func (h *Hub) reportLost() {
	h.mu.Lock()
	already := h.lost
	h.lost = true
	cb := h.onLost
	h.mu.Unlock()
	if !already && cb != nil {
		cb(h)
	}
}

// Close stops the liveness ping loop. It does not close the underlying KV
// store; that is left to whoever opened the store.
func (h *Hub) Close() error {
	h.StopLivenessPing()
	return nil
}

// GCStaleGateways removes gateways whose ping key has expired without their
// own liveness ping loop noticing - a process that registered and then
// crashed outright, rather than disconnecting cleanly. It never touches
// this hub client's own gateway. Returns the number of gateways removed.
func (h *Hub) GCStaleGateways(ctx context.Context) (int, error) {
	members, err := h.store.SMembers(ctx, gatewayList)
	if err != nil {
		return 0, fmt.Errorf("hub: gc: list gateways: %w", err)
	}

	removed := 0
	for _, member := range members {
		name := baseName(member)
		if name == h.name {
			continue
		}
		alive, err := h.store.Has(ctx, pingKey(name))
		if err != nil {
			return removed, fmt.Errorf("hub: gc: check ping for %s: %w", name, err)
		}
		if alive {
			continue
		}
		if err := h.UnregisterNamedGateway(ctx, name); err != nil {
			return removed, fmt.Errorf("hub: gc: unregister stale gateway %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
