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

// Package flippedif implements the flipped interface: the outbound ruleset
// that pushes local connections into named remote gateways' inboxes, and
// the inbound side that decides how to realize entries deposited in this
// gateway's own inbox.
package flippedif

import (
	"regexp"
	"sync"

	"github.com/rocon-io/gateway/internal/model"
)

// DetailsFunc resolves the full, registerable Connection(s) for a Rule's
// type/name/node, exploding action rules into their five synthesized
// sub-connections. The mirror provides this.
type DetailsFunc func(t model.ConnectionType, name, node string) []model.Connection

// Post is one outbound flip entry this gateway must ensure exists in a
// receiver's inbox: a single fundamental-type Rule (action rules have
// already been exploded into five of these) paired with the local
// Connection to encrypt and send.
type Post struct {
	ReceiverGateway string
	Rule            model.Rule
	Connection      model.Connection
}

// Outbound owns the set of flip rules this gateway has been asked to
// maintain.
type Outbound struct {
	mu    sync.Mutex
	rules []model.RemoteRule
}

// NewOutbound returns an empty outbound flipped interface.
func NewOutbound() *Outbound {
	return &Outbound{}
}

// AddRule adds r to the ruleset if not already present. A rule whose
// target gateway matches this gateway is accepted here; Reconcile skips
// the self gateway when it expands targets.
func (o *Outbound) AddRule(r model.RemoteRule) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.rules {
		if existing == r {
			return
		}
	}
	o.rules = append(o.rules, r)
}

// RemoveRule removes r from the ruleset.
func (o *Outbound) RemoveRule(r model.RemoteRule) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.rules[:0]
	for _, existing := range o.rules {
		if existing != r {
			out = append(out, existing)
		}
	}
	o.rules = out
}

// Rules returns a snapshot of the current ruleset.
func (o *Outbound) Rules() []model.RemoteRule {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.RemoteRule, len(o.rules))
	copy(out, o.rules)
	return out
}

// Reconcile matches the ruleset against local connections, expands regex
// gateway targets against knownGateways, and explodes ACTION_* rules into
// their five per-topic posts via details. It returns every Post that should
// exist in some receiver's inbox this tick; the caller diffs against what
// is already posted (the hub client owns that set, since it is the hub's
// set member, not gateway-local state).
func (o *Outbound) Reconcile(localConnections []model.Connection, knownGateways []string, selfGateway string, details DetailsFunc) []Post {
	o.mu.Lock()
	rules := make([]model.RemoteRule, len(o.rules))
	copy(rules, o.rules)
	o.mu.Unlock()

	var posts []Post
	for _, rule := range rules {
		for _, receiver := range matchingGateways(rule.TargetGateway, knownGateways, selfGateway) {
			for _, conn := range localConnections {
				if !ruleMatchesConnection(rule.Rule, conn.Rule) {
					continue
				}
				posts = append(posts, expandPost(receiver, rule.Rule, conn, details)...)
			}
		}
	}
	return posts
}

func expandPost(receiver string, rule model.Rule, conn model.Connection, details DetailsFunc) []Post {
	if !rule.Type.IsAction() {
		return []Post{{ReceiverGateway: receiver, Rule: rule, Connection: conn}}
	}
	subConns := details(rule.Type, conn.Rule.Name, conn.Rule.Node)
	posts := make([]Post, 0, len(subConns))
	for _, sub := range subConns {
		posts = append(posts, Post{ReceiverGateway: receiver, Rule: sub.Rule, Connection: sub})
	}
	return posts
}

func matchingGateways(pattern string, known []string, self string) []string {
	var out []string
	for _, gw := range known {
		if gw == self {
			continue
		}
		if gw == pattern {
			out = append(out, gw)
			continue
		}
		if re, err := regexp.Compile("^" + pattern + "$"); err == nil && re.MatchString(gw) {
			out = append(out, gw)
		}
	}
	return out
}

func ruleMatchesConnection(pattern, candidate model.Rule) bool {
	if pattern.Type != "" && pattern.Type != candidate.Type {
		return false
	}
	return matchField(pattern.Name, candidate.Name) && matchField(pattern.Node, candidate.Node)
}

func matchField(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if pattern == value {
		return true
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
