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

import "strings"

const (
	keyPrefix   = "rocon:"
	gatewayList = keyPrefix + "hub:gatewaylist"
	basenameSep = "_"
)

// gatewayKey is the hub-wide unique key stored as a member of the gateway
// list set.
func gatewayKey(name string) string {
	return keyPrefix + name
}

// baseName strips the key prefix from a gatewayKey, recovering the plain
// gateway name.
func baseName(key string) string {
	return strings.TrimPrefix(key, keyPrefix)
}

// basename strips a gateway name's disambiguating suffix (the trailing
// "_<hash>" appended at startup, see anonymousNodeName-style naming),
// leaving the human-chosen prefix shared by every instance spun up from the
// same launch configuration.
func basename(name string) string {
	idx := strings.LastIndex(name, basenameSep)
	if idx < 0 {
		return name
	}
	return name[:idx]
}

func field(name, suffix string) string {
	return gatewayKey(name) + ":" + suffix
}

func ipKey(name string) string                  { return field(name, "ip") }
func firewallKey(name string) string             { return field(name, "firewall") }
func publicKeyKey(name string) string            { return field(name, "public_key") }
func advertisementsKey(name string) string       { return field(name, "advertisements") }
func flipsKey(name string) string                { return field(name, "flips") }
func pullsKey(name string) string                { return field(name, "pulls") }
func flipInsKey(name string) string              { return field(name, "flip_ins") }
func pingKey(name string) string                 { return field(name, "ping") }
func availableKey(name string) string            { return field(name, "available") }
func timeSinceLastSeenKey(name string) string    { return field(name, "time_since_last_seen") }
func latencyMinKey(name string) string           { return field(name, "latency:min") }
func latencyAvgKey(name string) string           { return field(name, "latency:avg") }
func latencyMaxKey(name string) string           { return field(name, "latency:max") }
func latencyMdevKey(name string) string          { return field(name, "latency:mdev") }
func networkInfoAvailableKey(name string) string { return field(name, "network:info_available") }
func networkTypeKey(name string) string          { return field(name, "network:type") }
func wirelessBitrateKey(name string) string      { return field(name, "wireless:bitrate") }
func wirelessQualityKey(name string) string      { return field(name, "wireless:quality") }
func wirelessSignalLevelKey(name string) string  { return field(name, "wireless:signal_level") }
func wirelessNoiseLevelKey(name string) string   { return field(name, "wireless:noise_level") }
