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

package xmlrpc

import (
	"context"
	"fmt"

	"github.com/rocon-io/gateway/internal/masterapi"
)

// every master-API call returns a (code, statusMessage, value) triple; code
// 1 means success, anything else is a logical failure the caller should
// report rather than retry.
const codeSuccess = 1

// Master implements masterapi.API against a real master reachable over
// XML-RPC, using the caller_id/code/statusMessage/value conventions.
type Master struct {
	client   *Client
	callerID string
	uri      string
}

// NewMaster returns a Master bound to masterURI, identifying itself to the
// master as callerID (the gateway's own node name).
func NewMaster(masterURI, callerID, ownURI string) *Master {
	return &Master{client: New(masterURI), callerID: callerID, uri: ownURI}
}

// URI returns the gateway's own XML-RPC URI, as registered with the master.
func (m *Master) URI() string { return m.uri }

func (m *Master) callTriple(ctx context.Context, method string, extra ...any) (any, error) {
	params := append([]any{m.callerID}, extra...)
	var raw any
	if err := m.client.Call(ctx, method, params, &raw); err != nil {
		return nil, fmt.Errorf("xmlrpc: %s: %w", method, err)
	}
	triple, ok := raw.([]any)
	if !ok || len(triple) != 3 {
		return nil, fmt.Errorf("xmlrpc: %s: malformed response", method)
	}
	code, _ := triple[0].(int)
	if code != codeSuccess {
		msg, _ := triple[1].(string)
		return nil, fmt.Errorf("xmlrpc: %s: master reported failure: %s", method, msg)
	}
	return triple[2], nil
}

// GetSystemState implements masterapi.API.
func (m *Master) GetSystemState(ctx context.Context) (masterapi.SystemState, error) {
	val, err := m.callTriple(ctx, "getSystemState")
	if err != nil {
		return masterapi.SystemState{}, err
	}
	sections, ok := val.([]any)
	if !ok || len(sections) != 3 {
		return masterapi.SystemState{}, fmt.Errorf("xmlrpc: getSystemState: malformed state")
	}
	return masterapi.SystemState{
		Publishers:  decodeRegistrationTable(sections[0]),
		Subscribers: decodeRegistrationTable(sections[1]),
		Services:    decodeRegistrationTable(sections[2]),
	}, nil
}

func decodeRegistrationTable(section any) map[string][]string {
	entries, ok := section.([]any)
	if !ok {
		return nil
	}
	table := make(map[string][]string, len(entries))
	for _, e := range entries {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		name, _ := pair[0].(string)
		nodesAny, ok := pair[1].([]any)
		if !ok {
			continue
		}
		nodes := make([]string, 0, len(nodesAny))
		for _, n := range nodesAny {
			if s, ok := n.(string); ok {
				nodes = append(nodes, s)
			}
		}
		table[name] = nodes
	}
	return table
}

// LookupNode implements masterapi.API.
func (m *Master) LookupNode(ctx context.Context, node string) (string, error) {
	val, err := m.callTriple(ctx, "lookupNode", node)
	if err != nil {
		return "", err
	}
	uri, _ := val.(string)
	return uri, nil
}

// TopicType implements masterapi.API.
func (m *Master) TopicType(ctx context.Context, topic string) (string, error) {
	state, err := m.GetSystemState(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := state.Publishers[topic]; ok {
		return topicTypeLookup(ctx, m, topic)
	}
	if _, ok := state.Subscribers[topic]; ok {
		return topicTypeLookup(ctx, m, topic)
	}
	return "", nil
}

func topicTypeLookup(ctx context.Context, m *Master, topic string) (string, error) {
	val, err := m.callTriple(ctx, "getTopicType", topic)
	if err != nil {
		return "", err
	}
	t, _ := val.(string)
	return t, nil
}

// ServiceURI implements masterapi.API.
func (m *Master) ServiceURI(ctx context.Context, service string) (string, error) {
	val, err := m.callTriple(ctx, "lookupService", service)
	if err != nil {
		return "", err
	}
	uri, _ := val.(string)
	return uri, nil
}

// RegisterPublisher implements masterapi.API.
func (m *Master) RegisterPublisher(ctx context.Context, node, topic, topicType, callerAPI string) error {
	master := m.as(node)
	_, err := master.callTriple(ctx, "registerPublisher", topic, topicType, callerAPI)
	return err
}

// UnregisterPublisher implements masterapi.API.
func (m *Master) UnregisterPublisher(ctx context.Context, node, topic, callerAPI string) error {
	master := m.as(node)
	_, err := master.callTriple(ctx, "unregisterPublisher", topic, callerAPI)
	return err
}

// RegisterSubscriber implements masterapi.API.
func (m *Master) RegisterSubscriber(ctx context.Context, node, topic, topicType, callerAPI string) ([]string, error) {
	master := m.as(node)
	val, err := master.callTriple(ctx, "registerSubscriber", topic, topicType, callerAPI)
	if err != nil {
		return nil, err
	}
	urisAny, _ := val.([]any)
	uris := make([]string, 0, len(urisAny))
	for _, u := range urisAny {
		if s, ok := u.(string); ok {
			uris = append(uris, s)
		}
	}
	return uris, nil
}

// UnregisterSubscriber implements masterapi.API.
func (m *Master) UnregisterSubscriber(ctx context.Context, node, topic, callerAPI string) error {
	master := m.as(node)
	_, err := master.callTriple(ctx, "unregisterSubscriber", topic, callerAPI)
	return err
}

// RegisterService implements masterapi.API.
func (m *Master) RegisterService(ctx context.Context, node, service, serviceURI, callerAPI string) error {
	master := m.as(node)
	_, err := master.callTriple(ctx, "registerService", service, serviceURI, callerAPI)
	return err
}

// UnregisterService implements masterapi.API.
func (m *Master) UnregisterService(ctx context.Context, node, service, serviceURI, callerAPI string) error {
	master := m.as(node)
	_, err := master.callTriple(ctx, "unregisterService", service, serviceURI, callerAPI)
	return err
}

// PublisherUpdate implements masterapi.API. It calls the subscriber's own
// XML-RPC endpoint directly rather than the master.
func (m *Master) PublisherUpdate(ctx context.Context, subscriberAPI, topic string, publisherURIs []string) error {
	client := New(subscriberAPI)
	var raw any
	err := client.Call(ctx, "publisherUpdate", []any{m.callerID, topic, publisherURIs}, &raw)
	if err != nil {
		return fmt.Errorf("xmlrpc: publisherUpdate: %w", err)
	}
	return nil
}

// as returns a shallow copy of m that identifies itself as a different
// caller_id, used when registering on behalf of a synthetic node.
func (m *Master) as(callerID string) *Master {
	return &Master{client: m.client, callerID: callerID, uri: m.uri}
}
