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

// Package hubmanager owns every hub this gateway is currently connected to,
// enforces the connect whitelist/blacklist policy, and fans out the
// operations the watcher needs (advertise, flip, pull) across all of them.
package hubmanager

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/config"
	"github.com/rocon-io/gateway/internal/hub"
	"github.com/rocon-io/gateway/internal/kv"
	"github.com/rocon-io/gateway/internal/metrics"
	"github.com/rocon-io/gateway/internal/model"
)

// KVFactory opens the key/value store backing the hub reachable at uri.
// Production wiring points this at kv.MakeKVAtAddr with the hub URI as the
// store address; tests inject an in-memory factory.
type KVFactory func(ctx context.Context, uri string) (kv.KV, error)

// Manager is the set of hubs this gateway maintains a live connection to.
type Manager struct {
	name string
	pub  codec.PublicKey
	priv codec.PrivateKey
	mx   *metrics.Metrics

	whitelist       []string
	blacklist       []string
	connectRetry    time.Duration
	flipSendTimeout time.Duration
	pingFrequency   time.Duration
	maxTTL          time.Duration
	makeKV          KVFactory

	mu   sync.Mutex
	hubs map[string]*hub.Hub
}

// New returns an empty Manager enforcing hubCfg's connect policy.
func New(name string, pub codec.PublicKey, priv codec.PrivateKey, mx *metrics.Metrics, hubCfg config.Hub, pingFrequency, maxTTL time.Duration, makeKV KVFactory) *Manager {
	return &Manager{
		name:            name,
		pub:             pub,
		priv:            priv,
		mx:              mx,
		whitelist:       hubCfg.Whitelist,
		blacklist:       hubCfg.Blacklist,
		connectRetry:    hubCfg.ConnectRetry,
		flipSendTimeout: hubCfg.FlipSendTimeout,
		pingFrequency:   pingFrequency,
		maxTTL:          maxTTL,
		makeKV:          makeKV,
		hubs:            make(map[string]*hub.Hub),
	}
}

func matchesAny(patterns []string, candidate string) bool {
	for _, p := range patterns {
		if p == candidate {
			return true
		}
		if re, err := regexp.Compile("^" + p + "$"); err == nil && re.MatchString(candidate) {
			return true
		}
	}
	return false
}

func (m *Manager) evaluatePolicy(uri string) ConnectResult {
	if matchesAny(m.blacklist, uri) {
		return ConnectBlacklisted
	}
	if len(m.whitelist) > 0 && !matchesAny(m.whitelist, uri) {
		return ConnectNotWhitelisted
	}
	return ConnectSuccess
}

// Connect attempts a single, non-retrying connection to the hub at uri,
// registering this gateway with ip/firewall once the connection succeeds.
func (m *Manager) Connect(ctx context.Context, uri, ip string, firewall bool) (ConnectResult, error) {
	if result := m.evaluatePolicy(uri); result != ConnectSuccess {
		return result, nil
	}

	m.mu.Lock()
	if _, exists := m.hubs[uri]; exists {
		m.mu.Unlock()
		return ConnectSuccess, nil
	}
	m.mu.Unlock()

	store, err := m.makeKV(ctx, uri)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ConnectUnresolvable, err
		}
		return ConnectUnknownError, err
	}

	h := hub.New(uri, store, m.name, m.pub, m.priv, m.mx, m.pingFrequency, m.maxTTL)
	if err := h.RegisterGateway(ctx, ip, firewall); err != nil {
		_ = store.Close()
		return ConnectUnknownError, fmt.Errorf("hubmanager: register on %s: %w", uri, err)
	}

	m.mu.Lock()
	m.hubs[uri] = h
	m.mu.Unlock()

	h.StartLivenessPing(ctx, m.onHubLost)
	if m.mx != nil {
		m.mx.SetHubConnected(uri, true)
	}
	return ConnectSuccess, nil
}

// ConnectWithRetry retries Connect at the manager's configured interval
// until it succeeds, the policy definitively refuses it, or timeout
// elapses.
func (m *Manager) ConnectWithRetry(ctx context.Context, uri, ip string, firewall bool, timeout time.Duration) (ConnectResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		result, err := m.Connect(ctx, uri, ip, firewall)
		switch result {
		case ConnectSuccess, ConnectBlacklisted, ConnectNotWhitelisted:
			return result, err
		}
		if time.Now().After(deadline) {
			return result, err
		}
		timer := time.NewTimer(m.connectRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ConnectUnknownError, ctx.Err()
		case <-timer.C:
		}
	}
}

// onHubLost drops a hub whose liveness ping failed and stops its ping loop;
// the hub's KV store is not closed. The
// watcher's next tick will simply see fewer connected hubs; reconnection is
// the caller's responsibility (typically a periodic ConnectWithRetry sweep
// over the configured hub URIs).
func (m *Manager) onHubLost(h *hub.Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.hubs[h.URI]; ok && current == h {
		delete(m.hubs, h.URI)
	}
	if m.mx != nil {
		m.mx.SetHubConnected(h.URI, false)
	}
	_ = h.Close()
}

// Disconnect unregisters this gateway from the hub at uri and drops the
// local connection.
func (m *Manager) Disconnect(ctx context.Context, uri string) error {
	m.mu.Lock()
	h, ok := m.hubs[uri]
	if ok {
		delete(m.hubs, uri)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNoSuchHub
	}
	err := h.UnregisterNamedGateway(ctx, m.name)
	_ = h.Close()
	if m.mx != nil {
		m.mx.SetHubConnected(uri, false)
	}
	if err != nil {
		return fmt.Errorf("hubmanager: unregister from %s: %w", uri, err)
	}
	return nil
}

// ConnectedHubURIs returns the URIs this manager currently holds a live
// connection to.
func (m *Manager) ConnectedHubURIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.hubs))
	for uri := range m.hubs {
		out = append(out, uri)
	}
	return out
}

func (m *Manager) snapshot() []*hub.Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*hub.Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		out = append(out, h)
	}
	return out
}

// hubForGateway returns the first connected hub that currently registers
// name.
func (m *Manager) hubForGateway(ctx context.Context, name string) (*hub.Hub, error) {
	for _, h := range m.snapshot() {
		registered, err := h.IsNamedGatewayRegistered(ctx, name)
		if err != nil {
			continue
		}
		if registered {
			return h, nil
		}
	}
	return nil, ErrGatewayNotFoundOnAnyHub
}

// KnownGateways implements pulledif.Source: the union, deduplicated, of
// every remote gateway name visible on any connected hub.
func (m *Manager) KnownGateways() []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range m.snapshot() {
		names, err := h.ListRemoteGatewayNames(context.Background())
		if err != nil {
			continue
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Advertisements implements pulledif.Source: the advertisement set of
// gateway as seen through whichever connected hub currently registers it.
func (m *Manager) Advertisements(gateway string) []model.Connection {
	ctx := context.Background()
	h, err := m.hubForGateway(ctx, gateway)
	if err != nil {
		return nil
	}
	conns, err := h.GetRemoteAdvertisements(ctx, gateway)
	if err != nil {
		return nil
	}
	return conns
}
