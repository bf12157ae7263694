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

// Package pulledif implements the pulled interface: rules that import a
// named remote gateway's public advertisements into the local master.
// Symmetric to publicif, but matched against a remote's advertisement set
// rather than local state.
package pulledif

import (
	"regexp"
	"sync"

	"github.com/rocon-io/gateway/internal/model"
)

// Source resolves the live set of known remote gateways and each one's
// current public advertisements, as seen through the connected hubs. The
// hub manager implements this.
type Source interface {
	KnownGateways() []string
	Advertisements(gateway string) []model.Connection
}

// Interface owns the set of pull rules and the currently realized pulled
// registrations.
type Interface struct {
	mu    sync.Mutex
	rules []model.RemoteRule
	// realized maps a (gateway, Rule) pair to the Registration the mirror
	// created for it, so Update can compute a stable unregister set.
	realized map[pulledKey]model.Registration
}

type pulledKey struct {
	gateway string
	rule    model.Rule
}

// New returns an empty pulled Interface.
func New() *Interface {
	return &Interface{realized: map[pulledKey]model.Registration{}}
}

// AddRule adds r to the pull ruleset if not already present.
func (i *Interface) AddRule(r model.RemoteRule) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, existing := range i.rules {
		if existing == r {
			return
		}
	}
	i.rules = append(i.rules, r)
}

// RemoveRule removes r from the pull ruleset.
func (i *Interface) RemoveRule(r model.RemoteRule) {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.rules[:0]
	for _, existing := range i.rules {
		if existing != r {
			out = append(out, existing)
		}
	}
	i.rules = out
}

// Rules returns a snapshot of the current pull ruleset.
func (i *Interface) Rules() []model.RemoteRule {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]model.RemoteRule, len(i.rules))
	copy(out, i.rules)
	return out
}

// Update expands each rule's (possibly regex) target gateway against
// source's live gateway list, matches each target's advertisements against
// the rule's Rule pattern, and returns the Registrations to create and
// remove this tick.
func (i *Interface) Update(source Source, localGateway string) (toRegister []model.Registration, toUnregister []model.Registration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	wanted := map[pulledKey]model.Registration{}
	for _, rule := range i.rules {
		for _, gw := range matchingGateways(rule.TargetGateway, source.KnownGateways(), localGateway) {
			for _, conn := range source.Advertisements(gw) {
				if !ruleMatchesConnection(rule.Rule, conn.Rule) {
					continue
				}
				key := pulledKey{gateway: gw, rule: conn.Rule}
				wanted[key] = model.Registration{Connection: conn, RemoteGateway: gw}
			}
		}
	}

	for key, reg := range wanted {
		if _, already := i.realized[key]; !already {
			toRegister = append(toRegister, reg)
		}
	}
	for key, reg := range i.realized {
		if _, stillWanted := wanted[key]; !stillWanted {
			toUnregister = append(toUnregister, reg)
		}
	}

	i.realized = wanted
	return toRegister, toUnregister
}

// MarkRealized replaces the Registration recorded for (gateway, rule) with
// reg, which carries the LocalNode the mirror filled in after a successful
// Register call. Update already records every wanted pair as pulled,
// whether or not its registration succeeded.
func (i *Interface) MarkRealized(gateway string, rule model.Rule, reg model.Registration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.realized[pulledKey{gateway: gateway, rule: rule}] = reg
}

func matchingGateways(pattern string, known []string, localGateway string) []string {
	var out []string
	for _, gw := range known {
		if gw == localGateway {
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
