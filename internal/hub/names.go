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
	"fmt"
	"regexp"

	"github.com/rocon-io/gateway/internal/codec"
)

// RemoteGatewayInfo is the publicly readable state of a registered gateway.
type RemoteGatewayInfo struct {
	Name      string
	IP        string
	Firewall  bool
	PublicKey string
}

// ListRemoteGatewayNames returns every gateway currently registered on the
// hub other than this one.
func (h *Hub) ListRemoteGatewayNames(ctx context.Context) ([]string, error) {
	members, err := h.store.SMembers(ctx, gatewayList)
	if err != nil {
		return nil, fmt.Errorf("hub: list gateways: %w", err)
	}
	names := make([]string, 0, len(members))
	for _, key := range members {
		name := baseName(key)
		if name == h.name {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// MatchesRemoteGatewayName returns every currently registered remote
// gateway whose name exactly equals, or (as a regular expression) matches,
// pattern.
func (h *Hub) MatchesRemoteGatewayName(ctx context.Context, pattern string) ([]string, error) {
	names, err := h.ListRemoteGatewayNames(ctx)
	if err != nil {
		return nil, err
	}
	return matchNames(names, pattern, func(n string) string { return n }), nil
}

// MatchesRemoteGatewayBasename returns every currently registered remote
// gateway whose basename (its name with the trailing disambiguating suffix
// stripped) exactly equals, or matches as a regular expression, pattern.
func (h *Hub) MatchesRemoteGatewayBasename(ctx context.Context, pattern string) ([]string, error) {
	names, err := h.ListRemoteGatewayNames(ctx)
	if err != nil {
		return nil, err
	}
	return matchNames(names, pattern, basename), nil
}

func matchNames(names []string, pattern string, project func(string) string) []string {
	var out []string
	re, reErr := regexp.Compile("^" + pattern + "$")
	for _, name := range names {
		candidate := project(name)
		if candidate == pattern {
			out = append(out, name)
			continue
		}
		if reErr == nil && re.MatchString(candidate) {
			out = append(out, name)
		}
	}
	return out
}

// RemoteGatewayInfo retrieves the ip, firewall mode, and public key of a
// named remote gateway.
func (h *Hub) RemoteGatewayInfo(ctx context.Context, name string) (RemoteGatewayInfo, error) {
	registered, err := h.IsNamedGatewayRegistered(ctx, name)
	if err != nil {
		return RemoteGatewayInfo{}, err
	}
	if !registered {
		return RemoteGatewayInfo{}, ErrGatewayNotFound
	}

	ip, err := h.store.Get(ctx, ipKey(name))
	if err != nil {
		return RemoteGatewayInfo{}, fmt.Errorf("hub: read ip: %w", err)
	}
	firewallRaw, err := h.store.Get(ctx, firewallKey(name))
	if err != nil {
		return RemoteGatewayInfo{}, fmt.Errorf("hub: read firewall: %w", err)
	}
	pub, err := h.store.Get(ctx, publicKeyKey(name))
	if err != nil {
		return RemoteGatewayInfo{}, fmt.Errorf("hub: read public key: %w", err)
	}

	return RemoteGatewayInfo{
		Name:      name,
		IP:        string(ip),
		Firewall:  string(firewallRaw) == "true",
		PublicKey: string(pub),
	}, nil
}

// remotePublicKey reads and deserializes a named gateway's current public
// key. It returns ok=false (no error) if the gateway has not yet published
// one, so callers can poll without treating "not yet" as a failure.
func (h *Hub) remotePublicKey(ctx context.Context, name string) (key codec.PublicKey, ok bool, err error) {
	raw, err := h.store.Get(ctx, publicKeyKey(name))
	if err != nil {
		return key, false, fmt.Errorf("hub: read public key: %w", err)
	}
	if len(raw) == 0 {
		return key, false, nil
	}
	parsed, err := codec.DeserializeKey(string(raw))
	if err != nil {
		return key, false, err
	}
	return codec.PublicKey(parsed), true, nil
}
