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

// Package model holds the connection-level types shared by every component
// of the gateway: the mirror, the public/flipped/pulled interfaces, the hub
// client, and the watcher loop.
package model

import "fmt"

// ConnectionType is the closed enumeration of endpoint kinds a gateway can
// advertise, flip, or pull.
type ConnectionType string

const (
	// Publisher identifies a topic publisher.
	Publisher ConnectionType = "PUBLISHER"
	// Subscriber identifies a topic subscriber.
	Subscriber ConnectionType = "SUBSCRIBER"
	// Service identifies a request/reply service provider.
	Service ConnectionType = "SERVICE"
	// ActionClient identifies the client side of an action quintuplet.
	ActionClient ConnectionType = "ACTION_CLIENT"
	// ActionServer identifies the server side of an action quintuplet.
	ActionServer ConnectionType = "ACTION_SERVER"
)

// IsAction reports whether t is one of the two action connection types.
func (t ConnectionType) IsAction() bool {
	return t == ActionServer || t == ActionClient
}

// actionSuffixes are the five deterministic topic suffixes an action
// connection explodes into. Order matters for generated lists but not for
// the assemble rule, which treats the five parts as a set.
var actionSuffixes = []string{"/goal", "/cancel", "/feedback", "/status", "/result"}

// actionPublishSuffixes returns the suffixes published (vs subscribed) by a
// node acting as t at the given base topic.
func actionPublishSuffixes(t ConnectionType) (publish []string, subscribe []string) {
	switch t {
	case ActionServer:
		return []string{"/status", "/feedback", "/result"}, []string{"/goal", "/cancel"}
	case ActionClient:
		return []string{"/goal", "/cancel"}, []string{"/status", "/feedback", "/result"}
	default:
		return nil, nil
	}
}

// Rule identifies a local endpoint: its kind, its fully qualified name, and
// the node that owns it.
type Rule struct {
	Type ConnectionType
	Name string
	Node string
}

// String renders a Rule as "TYPE:name:node", matching the textual rule
// triples accepted from configuration.
func (r Rule) String() string {
	return fmt.Sprintf("%s:%s:%s", r.Type, r.Name, r.Node)
}

// Connection is a fully resolved endpoint: a Rule plus the metadata needed
// to register it on a remote master.
type Connection struct {
	Rule     Rule
	TypeInfo string // message/service type, or a service's provider URI
	XMLRPCURI string
}

// RemoteRule pairs a Rule with the gateway it targets (or is sourced from).
// TargetGateway may be a regular expression for flip/pull rule matching.
type RemoteRule struct {
	TargetGateway string
	Rule          Rule
}

// Registration records that the mirror injected a remote endpoint into the
// local master under a synthetic node name that the gateway owns and will
// never reuse.
type Registration struct {
	Connection    Connection
	RemoteGateway string
	LocalNode     string
}

// FlipStatus is the lifecycle state of a flip mailbox entry.
type FlipStatus string

const (
	// FlipPending means the sender has posted the entry but the receiver
	// has not yet processed it.
	FlipPending FlipStatus = "PENDING"
	// FlipAccepted means the receiver registered the connection locally.
	FlipAccepted FlipStatus = "ACCEPTED"
	// FlipBlocked means the receiver is in firewall mode and refused it.
	FlipBlocked FlipStatus = "BLOCKED"
	// FlipResend means the sender must re-encrypt and re-post the entry,
	// typically because the receiver rotated its keypair.
	FlipResend FlipStatus = "RESEND"
	// FlipUnknown is the status of an entry whose state cannot be
	// determined, e.g. a partially-assembled action whose five parts
	// disagree.
	FlipUnknown FlipStatus = "UNKNOWN"
)

// ExplodeAction returns the five per-topic RemoteRules a flip protocol
// posts for an ACTION_* RemoteRule. It panics if r.Rule.Type is not an
// action type; callers must guard with Rule.Type.IsAction().
func ExplodeAction(r RemoteRule) []RemoteRule {
	publish, subscribe := actionPublishSuffixes(r.Rule.Type)
	if publish == nil {
		panic(fmt.Sprintf("model: ExplodeAction called on non-action rule %v", r))
	}
	out := make([]RemoteRule, 0, len(actionSuffixes))
	for _, suffix := range publish {
		out = append(out, subRule(r, suffix, subPolarity(r.Rule.Type, true)))
	}
	for _, suffix := range subscribe {
		out = append(out, subRule(r, suffix, subPolarity(r.Rule.Type, false)))
	}
	return out
}

// subPolarity maps "this node publishes/subscribes this sub-topic" to the
// fundamental connection type the hub understands.
func subPolarity(t ConnectionType, publishes bool) ConnectionType {
	switch {
	case t == ActionServer && publishes, t == ActionClient && publishes:
		return Publisher
	default:
		return Subscriber
	}
}

func subRule(r RemoteRule, suffix string, fundamental ConnectionType) RemoteRule {
	return RemoteRule{
		TargetGateway: r.TargetGateway,
		Rule: Rule{
			Type: fundamental,
			Name: r.Rule.Name + suffix,
			Node: r.Rule.Node,
		},
	}
}

// AssembleActionStatus combines the statuses of an action's five exploded
// sub-entries into a single reported status. UNKNOWN dominates all; among
// the remainder BLOCKED/RESEND dominate PENDING/ACCEPTED; ACCEPTED is only
// reported when every part agrees.
func AssembleActionStatus(parts []FlipStatus) FlipStatus {
	if len(parts) == 0 {
		return FlipUnknown
	}
	seen := make(map[FlipStatus]bool, len(parts))
	for _, p := range parts {
		seen[p] = true
	}
	switch {
	case seen[FlipUnknown]:
		return FlipUnknown
	case seen[FlipBlocked]:
		return FlipBlocked
	case seen[FlipResend]:
		return FlipResend
	case seen[FlipPending]:
		return FlipPending
	case len(seen) == 1 && seen[FlipAccepted]:
		return FlipAccepted
	default:
		return FlipUnknown
	}
}
