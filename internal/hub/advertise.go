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

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/model"
)

// Advertise publishes conn on this gateway's public advertisement set,
// making it visible to every pull rule that targets this gateway.
func (h *Hub) Advertise(ctx context.Context, conn model.Connection) error {
	wire, err := codec.SerializeConnection(conn)
	if err != nil {
		return fmt.Errorf("hub: serialize advertisement: %w", err)
	}
	if err := h.store.SAdd(ctx, advertisementsKey(h.name), wire); err != nil {
		return fmt.Errorf("hub: advertise: %w", err)
	}
	return nil
}

// Unadvertise removes conn from this gateway's public advertisement set.
func (h *Hub) Unadvertise(ctx context.Context, conn model.Connection) error {
	wire, err := codec.SerializeConnection(conn)
	if err != nil {
		return fmt.Errorf("hub: serialize advertisement: %w", err)
	}
	if err := h.store.SRem(ctx, advertisementsKey(h.name), wire); err != nil {
		return fmt.Errorf("hub: unadvertise: %w", err)
	}
	return nil
}

// GetLocalAdvertisements returns this gateway's own currently advertised
// connections, as stored on the hub.
func (h *Hub) GetLocalAdvertisements(ctx context.Context) ([]model.Connection, error) {
	return h.GetRemoteAdvertisements(ctx, h.name)
}

// GetRemoteAdvertisements returns the public advertisements of a named
// gateway, as seen through this hub.
func (h *Hub) GetRemoteAdvertisements(ctx context.Context, name string) ([]model.Connection, error) {
	wires, err := h.store.SMembers(ctx, advertisementsKey(name))
	if err != nil {
		return nil, fmt.Errorf("hub: read advertisements for %s: %w", name, err)
	}
	conns := make([]model.Connection, 0, len(wires))
	for _, wire := range wires {
		conn, err := codec.DeserializeConnection(wire)
		if err != nil {
			continue
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// PostFlipDetails records, for introspection only, that this gateway has an
// active flip rule pushing ruleName to receiver. The hub never reads this
// set; it exists so operators can inspect gateway state without a sidecar.
func (h *Hub) PostFlipDetails(ctx context.Context, receiver, ruleName string) error {
	if err := h.store.SAdd(ctx, flipsKey(h.name), receiver+":"+ruleName); err != nil {
		return fmt.Errorf("hub: post flip details: %w", err)
	}
	return nil
}

// RemoveFlipDetails undoes PostFlipDetails.
func (h *Hub) RemoveFlipDetails(ctx context.Context, receiver, ruleName string) error {
	if err := h.store.SRem(ctx, flipsKey(h.name), receiver+":"+ruleName); err != nil {
		return fmt.Errorf("hub: remove flip details: %w", err)
	}
	return nil
}

// PostPullDetails records, for introspection only, that this gateway has an
// active pull rule importing ruleName from source.
func (h *Hub) PostPullDetails(ctx context.Context, source, ruleName string) error {
	if err := h.store.SAdd(ctx, pullsKey(h.name), source+":"+ruleName); err != nil {
		return fmt.Errorf("hub: post pull details: %w", err)
	}
	return nil
}

// RemovePullDetails undoes PostPullDetails.
func (h *Hub) RemovePullDetails(ctx context.Context, source, ruleName string) error {
	if err := h.store.SRem(ctx, pullsKey(h.name), source+":"+ruleName); err != nil {
		return fmt.Errorf("hub: remove pull details: %w", err)
	}
	return nil
}

// NetworkStatistics is the wireless/ping telemetry a gateway periodically
// publishes about its own connection to this hub.
type NetworkStatistics struct {
	InfoAvailable bool
	NetworkType   string
	LatencyMin    float64
	LatencyAvg    float64
	LatencyMax    float64
	LatencyMdev   float64
	Bitrate       string
	Quality       string
	SignalLevel   string
	NoiseLevel    string
}

// PublishNetworkStatistics writes this gateway's current connection
// telemetry to the hub for operator introspection.
func (h *Hub) PublishNetworkStatistics(ctx context.Context, stats NetworkStatistics) error {
	pipe := h.store.Pipeline()
	pipe.Set(networkInfoAvailableKey(h.name), []byte(boolString(stats.InfoAvailable)))
	pipe.Set(networkTypeKey(h.name), []byte(stats.NetworkType))
	pipe.Set(latencyMinKey(h.name), []byte(floatString(stats.LatencyMin)))
	pipe.Set(latencyAvgKey(h.name), []byte(floatString(stats.LatencyAvg)))
	pipe.Set(latencyMaxKey(h.name), []byte(floatString(stats.LatencyMax)))
	pipe.Set(latencyMdevKey(h.name), []byte(floatString(stats.LatencyMdev)))
	pipe.Set(wirelessBitrateKey(h.name), []byte(stats.Bitrate))
	pipe.Set(wirelessQualityKey(h.name), []byte(stats.Quality))
	pipe.Set(wirelessSignalLevelKey(h.name), []byte(stats.SignalLevel))
	pipe.Set(wirelessNoiseLevelKey(h.name), []byte(stats.NoiseLevel))
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hub: publish network statistics: %w", err)
	}
	return nil
}
