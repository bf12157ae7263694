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

// Package mirror adapts a masterapi.API into the gateway's view of the
// local naming authority: it fuses raw publisher/subscriber state into
// action endpoints, derives connection metadata, and realizes remote
// registrations under synthetic node identities.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rocon-io/gateway/internal/masterapi"
	"github.com/rocon-io/gateway/internal/model"
)

// Mirror is the local master adapter.
type Mirror struct {
	api       masterapi.API
	masterURI string
}

// New returns a Mirror bound to api, which resolves the master's own URI as
// reported by masterURI (used by GetROSIP).
func New(api masterapi.API, masterURI string) *Mirror {
	return &Mirror{api: api, masterURI: masterURI}
}

// GetConnectionState enumerates the master's system state, fusing
// publisher/subscriber quintuplets into action endpoints.
func (m *Mirror) GetConnectionState(ctx context.Context) (map[model.ConnectionType][]model.Connection, error) {
	state, err := m.api.GetSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: get system state: %w", err)
	}

	pubs := cloneTable(state.Publishers)
	subs := cloneTable(state.Subscribers)

	actionServers := extractActions(subs, pubs, []string{"/status", "/feedback", "/result"}, []string{"/goal", "/cancel"})
	actionClients := extractActions(pubs, subs, []string{"/status", "/feedback", "/result"}, []string{"/goal", "/cancel"})

	result := map[model.ConnectionType][]model.Connection{
		model.Publisher:    m.connectionsFromTopics(ctx, pubs, model.Publisher),
		model.Subscriber:   m.connectionsFromTopics(ctx, subs, model.Subscriber),
		model.Service:      m.connectionsFromServices(ctx, state.Services),
		model.ActionServer: m.connectionsFromActions(ctx, actionServers, model.ActionServer),
		model.ActionClient: m.connectionsFromActions(ctx, actionClients, model.ActionClient),
	}
	return result, nil
}

func cloneTable(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// actionGroup is a fused action's base topic and the nodes that own it.
type actionGroup struct {
	Base  string
	Nodes []string
}

// extractActions finds base topics whose owning node owns the goalSuffix
// and cancelSuffix entries in ownGoalSide and the otherSuffixes entries in
// otherSide, removing every consumed entry from both tables. ownGoalSide is
// the side carrying /goal and /cancel (ACTION_SERVER subscribes them,
// ACTION_CLIENT publishes them).
func extractActions(ownGoalSide, otherSide map[string][]string, otherSuffixes, ownSuffixes []string) []actionGroup {
	var groups []actionGroup
	goalSuffix := ownSuffixes[0]
	cancelSuffix := ownSuffixes[1]
	for topic, nodes := range ownGoalSide {
		if !strings.HasSuffix(topic, goalSuffix) {
			continue
		}
		base := strings.TrimSuffix(topic, goalSuffix)

		var fusedNodes []string
		for _, node := range nodes {
			if !topicHasNode(ownGoalSide, base+cancelSuffix, node) {
				continue
			}
			allOther := true
			for _, suffix := range otherSuffixes {
				if !topicHasNode(otherSide, base+suffix, node) {
					allOther = false
					break
				}
			}
			if allOther {
				fusedNodes = append(fusedNodes, node)
			}
		}
		if len(fusedNodes) == 0 {
			continue
		}
		groups = append(groups, actionGroup{Base: base, Nodes: fusedNodes})
		for _, node := range fusedNodes {
			removeNode(ownGoalSide, base+goalSuffix, node)
			removeNode(ownGoalSide, base+cancelSuffix, node)
			for _, suffix := range otherSuffixes {
				removeNode(otherSide, base+suffix, node)
			}
		}
	}
	pruneEmpty(ownGoalSide)
	pruneEmpty(otherSide)
	return groups
}

func topicHasNode(table map[string][]string, topic, node string) bool {
	for _, n := range table[topic] {
		if n == node {
			return true
		}
	}
	return false
}

func removeNode(table map[string][]string, topic, node string) {
	nodes := table[topic]
	for i, n := range nodes {
		if n == node {
			table[topic] = append(nodes[:i], nodes[i+1:]...)
			return
		}
	}
}

func pruneEmpty(table map[string][]string) {
	for topic, nodes := range table {
		if len(nodes) == 0 {
			delete(table, topic)
		}
	}
}

func (m *Mirror) connectionsFromTopics(ctx context.Context, table map[string][]string, t model.ConnectionType) []model.Connection {
	var out []model.Connection
	for topic, nodes := range table {
		for _, node := range nodes {
			uri, err := m.api.LookupNode(ctx, node)
			if err != nil {
				continue
			}
			typeInfo, _ := m.api.TopicType(ctx, topic)
			out = append(out, model.Connection{
				Rule:      model.Rule{Type: t, Name: topic, Node: node},
				TypeInfo:  typeInfo,
				XMLRPCURI: uri,
			})
		}
	}
	return out
}

func (m *Mirror) connectionsFromServices(ctx context.Context, table map[string][]string) []model.Connection {
	var out []model.Connection
	for service, nodes := range table {
		for _, node := range nodes {
			uri, err := m.api.LookupNode(ctx, node)
			if err != nil {
				continue
			}
			serviceURI, _ := m.api.ServiceURI(ctx, service)
			out = append(out, model.Connection{
				Rule:      model.Rule{Type: model.Service, Name: service, Node: node},
				TypeInfo:  serviceURI,
				XMLRPCURI: uri,
			})
		}
	}
	return out
}

func (m *Mirror) connectionsFromActions(ctx context.Context, groups []actionGroup, t model.ConnectionType) []model.Connection {
	var out []model.Connection
	for _, g := range groups {
		typeInfo, err := m.api.TopicType(ctx, g.Base+"/goal")
		if err != nil {
			continue
		}
		typeInfo = strings.TrimSuffix(typeInfo, "ActionGoal")
		for _, node := range g.Nodes {
			uri, err := m.api.LookupNode(ctx, node)
			if err != nil {
				continue
			}
			out = append(out, model.Connection{
				Rule:      model.Rule{Type: t, Name: g.Base, Node: node},
				TypeInfo:  typeInfo,
				XMLRPCURI: uri,
			})
		}
	}
	return out
}

// GenerateConnectionDetails derives type_info and xmlrpc_uri for a bare
// Rule, exploding actions into their five synthesized sub-connections. It
// returns an empty slice (not an error) when required metadata is
// unavailable, matching the transient-race tolerance the local master
// mirror must provide.
func (m *Mirror) GenerateConnectionDetails(ctx context.Context, t model.ConnectionType, name, node string) []model.Connection {
	uri, err := m.api.LookupNode(ctx, node)
	if err != nil {
		return nil
	}

	switch t {
	case model.Publisher, model.Subscriber:
		typeInfo, err := m.api.TopicType(ctx, name)
		if err != nil || typeInfo == "" {
			return nil
		}
		return []model.Connection{{Rule: model.Rule{Type: t, Name: name, Node: node}, TypeInfo: typeInfo, XMLRPCURI: uri}}
	case model.Service:
		serviceURI, err := m.api.ServiceURI(ctx, name)
		if err != nil || serviceURI == "" {
			return nil
		}
		return []model.Connection{{Rule: model.Rule{Type: t, Name: name, Node: node}, TypeInfo: serviceURI, XMLRPCURI: uri}}
	case model.ActionServer, model.ActionClient:
		return m.generateActionConnectionDetails(ctx, t, name, node, uri)
	default:
		return nil
	}
}

func (m *Mirror) generateActionConnectionDetails(ctx context.Context, t model.ConnectionType, name, node, uri string) []model.Connection {
	publishSuffixes, subscribeSuffixes := actionSideSuffixes(t)
	var out []model.Connection
	for _, suffix := range append(append([]string{}, publishSuffixes...), subscribeSuffixes...) {
		typeInfo, err := m.api.TopicType(ctx, name+suffix)
		if err != nil {
			return nil
		}
		polarity := model.Publisher
		if containsString(subscribeSuffixes, suffix) {
			polarity = model.Subscriber
		}
		out = append(out, model.Connection{
			Rule:      model.Rule{Type: polarity, Name: name + suffix, Node: node},
			TypeInfo:  typeInfo,
			XMLRPCURI: uri,
		})
	}
	return out
}

func actionSideSuffixes(t model.ConnectionType) (publish, subscribe []string) {
	if t == model.ActionServer {
		return []string{"/status", "/feedback", "/result"}, []string{"/goal", "/cancel"}
	}
	return []string{"/goal", "/cancel"}, []string{"/status", "/feedback", "/result"}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ErrServiceAlreadyLocal is returned by Register when a SERVICE
// registration is refused because a node already provides it locally.
var ErrServiceAlreadyLocal = errors.New("mirror: service already provided locally")

// Register realizes a remote Registration against the local master under a
// freshly anonymized synthetic node name, tagging and returning the updated
// Registration. It returns ErrServiceAlreadyLocal (not a fatal error) when a
// SERVICE registration must be refused.
func (m *Mirror) Register(ctx context.Context, reg model.Registration) (model.Registration, error) {
	reg.LocalNode = anonymousNodeName(reg.Connection.Rule.Name)
	rule := reg.Connection.Rule

	switch rule.Type {
	case model.Publisher:
		err := m.api.RegisterPublisher(ctx, reg.LocalNode, rule.Name, reg.Connection.TypeInfo, reg.Connection.XMLRPCURI)
		return reg, wrapFatal(err)
	case model.Subscriber:
		pubURIs, err := m.api.RegisterSubscriber(ctx, reg.LocalNode, rule.Name, reg.Connection.TypeInfo, reg.Connection.XMLRPCURI)
		if err != nil {
			return reg, wrapFatal(err)
		}
		if err := m.api.PublisherUpdate(ctx, reg.Connection.XMLRPCURI, rule.Name, pubURIs); err != nil && !isConnectionRefused(err) {
			return reg, fmt.Errorf("mirror: publisher update: %w", err)
		}
		return reg, nil
	case model.Service:
		err := m.api.RegisterService(ctx, reg.LocalNode, rule.Name, reg.Connection.TypeInfo, reg.Connection.XMLRPCURI)
		if errors.Is(err, masterapi.ErrServiceAlreadyProvided) {
			return model.Registration{}, ErrServiceAlreadyLocal
		}
		return reg, wrapFatal(err)
	case model.ActionServer, model.ActionClient:
		if err := m.registerAction(ctx, reg.LocalNode, rule.Type, rule.Name, reg.Connection.TypeInfo, reg.Connection.XMLRPCURI); err != nil {
			return reg, err
		}
		return reg, nil
	default:
		return model.Registration{}, fmt.Errorf("mirror: unknown connection type %q", rule.Type)
	}
}

func (m *Mirror) registerAction(ctx context.Context, node string, t model.ConnectionType, name, typeInfo, uri string) error {
	publish, subscribe := actionSideSuffixes(t)
	for _, suffix := range subscribe {
		msgType := subActionMsgType(suffix, typeInfo)
		if _, err := m.api.RegisterSubscriber(ctx, node, name+suffix, msgType, uri); err != nil {
			return wrapFatal(err)
		}
	}
	for _, suffix := range publish {
		msgType := subActionMsgType(suffix, typeInfo)
		if err := m.api.RegisterPublisher(ctx, node, name+suffix, msgType, uri); err != nil {
			return wrapFatal(err)
		}
	}
	return nil
}

func subActionMsgType(suffix, baseType string) string {
	switch suffix {
	case "/goal":
		return baseType + "ActionGoal"
	case "/cancel":
		return "actionlib_msgs/GoalID"
	case "/status":
		return "actionlib_msgs/GoalStatusArray"
	case "/feedback":
		return baseType + "ActionFeedback"
	case "/result":
		return baseType + "ActionResult"
	default:
		return baseType
	}
}

// Unregister reverses Register for an existing Registration.
func (m *Mirror) Unregister(ctx context.Context, reg model.Registration) error {
	rule := reg.Connection.Rule
	switch rule.Type {
	case model.Publisher:
		return wrapFatal(m.api.UnregisterPublisher(ctx, reg.LocalNode, rule.Name, reg.Connection.XMLRPCURI))
	case model.Subscriber:
		err := m.api.PublisherUpdate(ctx, reg.Connection.XMLRPCURI, rule.Name, nil)
		if err != nil && !isConnectionRefused(err) && !isShuttingDown(err) {
			return fmt.Errorf("mirror: publisher update during unregister: %w", err)
		}
		return wrapFatal(m.api.UnregisterSubscriber(ctx, reg.LocalNode, rule.Name, reg.Connection.XMLRPCURI))
	case model.Service:
		return wrapFatal(m.api.UnregisterService(ctx, reg.LocalNode, rule.Name, reg.Connection.XMLRPCURI))
	case model.ActionServer, model.ActionClient:
		publish, subscribe := actionSideSuffixes(rule.Type)
		for _, suffix := range subscribe {
			if err := m.api.UnregisterSubscriber(ctx, reg.LocalNode, rule.Name+suffix, reg.Connection.XMLRPCURI); err != nil {
				return wrapFatal(err)
			}
		}
		for _, suffix := range publish {
			if err := m.api.UnregisterPublisher(ctx, reg.LocalNode, rule.Name+suffix, reg.Connection.XMLRPCURI); err != nil {
				return wrapFatal(err)
			}
		}
		return nil
	default:
		return fmt.Errorf("mirror: unknown connection type %q", rule.Type)
	}
}

func isConnectionRefused(err error) bool {
	return err != nil && strings.Contains(err.Error(), "connection refused")
}

func isShuttingDown(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't send request")
}

// wrapFatal wraps a register/unregister error as fatal-but-report. Unlike the
// subscriber's publisher-update notify step, none of these calls swallow
// connection-refused: a failed PUBLISHER, SUBSCRIBER, SERVICE, or action
// sub-registration against the local master is a real failure the caller
// must see.
func wrapFatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("mirror: %w", err)
}

// anonymousNodeName synthesizes a unique local node name for a remote
// registration of the given topic/service name, e.g. "/chatter" becomes
// "/chatter_a1b2c3d4". The gateway never reuses a node name across
// registrations.
func anonymousNodeName(name string) string {
	trimmed := strings.TrimPrefix(name, "/")
	trimmed = strings.ReplaceAll(trimmed, "/", "_")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "/" + trimmed + "_" + suffix
}

// GetROSIP returns a deterministic IP for the local master: an explicit
// ROS_IP/ROS_HOSTNAME override when the master URI resolves to localhost,
// else the master URI's own hostname, else "localhost" as a last resort.
func (m *Mirror) GetROSIP() string {
	u, err := url.Parse(m.masterURI)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	if u.Hostname() != "localhost" {
		return u.Hostname()
	}
	if ip := os.Getenv("ROS_IP"); ip != "" {
		return ip
	}
	if host := os.Getenv("ROS_HOSTNAME"); host != "" {
		return host
	}
	return "localhost"
}
