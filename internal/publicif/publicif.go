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

// Package publicif implements the public interface: the set of locally
// owned connections this gateway exposes on the hub, governed by a
// watchlist of advertise rules and a blacklist that always dominates.
package publicif

import (
	"regexp"
	"sync"

	"github.com/rocon-io/gateway/internal/model"
)

// Pattern is a single watchlist/blacklist entry: a (name, node) rule pair,
// each compiled as a regular expression, scoped to one connection type.
type Pattern struct {
	Type model.ConnectionType
	Name string
	Node string
}

func (p Pattern) matches(c model.Connection) bool {
	if p.Type != c.Rule.Type {
		return false
	}
	return matchField(p.Name, c.Rule.Name) && matchField(p.Node, c.Rule.Node)
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

// Interface owns the public advertisement state: the current set of
// advertised connections, the watchlist, and the default/user blacklists.
type Interface struct {
	mu sync.Mutex

	matchAll        bool
	watchlist       []Pattern
	defaultBlacklist []Pattern
	userBlacklist   []Pattern
	advertised      map[model.Connection]bool
}

// New returns an empty public Interface.
func New() *Interface {
	return &Interface{advertised: map[model.Connection]bool{}}
}

// Advertise adds rules to the watchlist, or removes them when cancel is
// true. Match-all mode is left untouched by this call.
func (i *Interface) Advertise(rules []Pattern, cancel bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if cancel {
		i.watchlist = removePatterns(i.watchlist, rules)
		return
	}
	i.watchlist = addPatterns(i.watchlist, rules)
}

// AdvertiseAll switches the watchlist to match-all mode and installs
// blacklist as the user blacklist (unioned with the default blacklist at
// Allowed-evaluation time); cancel reverts to an empty, non-match-all
// watchlist.
func (i *Interface) AdvertiseAll(blacklist []Pattern, cancel bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if cancel {
		i.matchAll = false
		i.userBlacklist = nil
		return
	}
	i.matchAll = true
	i.userBlacklist = blacklist
}

// SetDefaultBlacklist installs the deployment-wide baseline blacklist,
// always unioned with any user blacklist.
func (i *Interface) SetDefaultBlacklist(blacklist []Pattern) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.defaultBlacklist = blacklist
}

// Allowed reports whether c matches the watchlist (or match-all) and is not
// excluded by the effective blacklist. Blacklist dominates regardless of
// watchlist membership.
func (i *Interface) Allowed(c model.Connection) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.allowedLocked(c)
}

func (i *Interface) allowedLocked(c model.Connection) bool {
	for _, p := range i.defaultBlacklist {
		if p.matches(c) {
			return false
		}
	}
	for _, p := range i.userBlacklist {
		if p.matches(c) {
			return false
		}
	}
	if i.matchAll {
		return true
	}
	for _, p := range i.watchlist {
		if p.matches(c) {
			return true
		}
	}
	return false
}

// Update reconciles current against the watchlist/blacklist and the
// currently-advertised set, returning the connections to advertise and the
// ones to unadvertise this tick.
func (i *Interface) Update(current []model.Connection) (toAdvertise, toUnadvertise []model.Connection) {
	i.mu.Lock()
	defer i.mu.Unlock()

	allowedNow := map[model.Connection]bool{}
	for _, c := range current {
		if i.allowedLocked(c) {
			allowedNow[c] = true
		}
	}

	for c := range allowedNow {
		if !i.advertised[c] {
			toAdvertise = append(toAdvertise, c)
		}
	}
	for c := range i.advertised {
		if !allowedNow[c] {
			toUnadvertise = append(toUnadvertise, c)
		}
	}

	for _, c := range toAdvertise {
		i.advertised[c] = true
	}
	for _, c := range toUnadvertise {
		delete(i.advertised, c)
	}
	return toAdvertise, toUnadvertise
}

// Advertised returns a snapshot of the currently advertised connections.
func (i *Interface) Advertised() []model.Connection {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]model.Connection, 0, len(i.advertised))
	for c := range i.advertised {
		out = append(out, c)
	}
	return out
}

func addPatterns(list, add []Pattern) []Pattern {
	out := list
	for _, p := range add {
		if !containsPattern(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func removePatterns(list, remove []Pattern) []Pattern {
	out := make([]Pattern, 0, len(list))
	for _, p := range list {
		if !containsPattern(remove, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsPattern(list []Pattern, p Pattern) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
