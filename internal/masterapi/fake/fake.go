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

// Package fake implements an in-memory masterapi.API double for tests: a
// self-contained naming authority with no network I/O.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/rocon-io/gateway/internal/masterapi"
)

type topicEntry struct {
	nodeType string // "topic" type info
	nodes    map[string]bool
}

// Master is an in-memory masterapi.API implementation. The zero value is
// not usable; use New.
type Master struct {
	uri string

	mu          sync.Mutex
	publishers  map[string]*topicEntry
	subscribers map[string]*topicEntry
	services    map[string]*serviceEntry
	nodeURIs    map[string]string

	// PublisherUpdates records every PublisherUpdate call for assertions.
	PublisherUpdates []PublisherUpdateCall
}

// PublisherUpdateCall records one PublisherUpdate invocation.
type PublisherUpdateCall struct {
	SubscriberAPI string
	Topic         string
	PublisherURIs []string
}

type serviceEntry struct {
	node string
	uri  string
	typ  string
}

// New returns an empty Master identifying itself with the given XML-RPC
// URI, as reported by URI. RegisterPublisher/RegisterSubscriber record the
// callerAPI passed to them as the owning node's callback address, keyed by
// the node name passed in.
func New(uri string) *Master {
	return &Master{
		uri:         uri,
		publishers:  map[string]*topicEntry{},
		subscribers: map[string]*topicEntry{},
		services:    map[string]*serviceEntry{},
		nodeURIs:    map[string]string{},
	}
}

// SetNodeURI registers the XML-RPC callback address for node, used by
// LookupNode and PublisherUpdate targeting.
func (m *Master) SetNodeURI(node, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeURIs[node] = uri
}

// URI implements masterapi.API.
func (m *Master) URI() string { return m.uri }

// GetSystemState implements masterapi.API.
func (m *Master) GetSystemState(_ context.Context) (masterapi.SystemState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return masterapi.SystemState{
		Publishers:  snapshotNodes(m.publishers),
		Subscribers: snapshotNodes(m.subscribers),
		Services:    snapshotServices(m.services),
	}, nil
}

func snapshotNodes(table map[string]*topicEntry) map[string][]string {
	out := make(map[string][]string, len(table))
	for name, entry := range table {
		if len(entry.nodes) == 0 {
			continue
		}
		nodes := make([]string, 0, len(entry.nodes))
		for n := range entry.nodes {
			nodes = append(nodes, n)
		}
		out[name] = nodes
	}
	return out
}

func snapshotServices(table map[string]*serviceEntry) map[string][]string {
	out := make(map[string][]string, len(table))
	for name, entry := range table {
		out[name] = []string{entry.node}
	}
	return out
}

// LookupNode implements masterapi.API.
func (m *Master) LookupNode(_ context.Context, node string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.nodeURIs[node]
	if !ok {
		return "", fmt.Errorf("fake masterapi: unknown node %q", node)
	}
	return uri, nil
}

// TopicType implements masterapi.API.
func (m *Master) TopicType(_ context.Context, topic string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.publishers[topic]; ok {
		return e.nodeType, nil
	}
	if e, ok := m.subscribers[topic]; ok {
		return e.nodeType, nil
	}
	return "", nil
}

// ServiceURI implements masterapi.API.
func (m *Master) ServiceURI(_ context.Context, service string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.services[service]
	if !ok {
		return "", nil
	}
	return e.uri, nil
}

// RegisterPublisher implements masterapi.API.
func (m *Master) RegisterPublisher(_ context.Context, node, topic, topicType, callerAPI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeURIs[node] = callerAPI
	entry, ok := m.publishers[topic]
	if !ok {
		entry = &topicEntry{nodeType: topicType, nodes: map[string]bool{}}
		m.publishers[topic] = entry
	}
	entry.nodes[node] = true
	return nil
}

// UnregisterPublisher implements masterapi.API.
func (m *Master) UnregisterPublisher(_ context.Context, node, topic, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.publishers[topic]; ok {
		delete(entry.nodes, node)
	}
	return nil
}

// RegisterSubscriber implements masterapi.API.
func (m *Master) RegisterSubscriber(_ context.Context, node, topic, topicType, callerAPI string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeURIs[node] = callerAPI
	entry, ok := m.subscribers[topic]
	if !ok {
		entry = &topicEntry{nodeType: topicType, nodes: map[string]bool{}}
		m.subscribers[topic] = entry
	}
	entry.nodes[node] = true

	var pubURIs []string
	if pubs, ok := m.publishers[topic]; ok {
		for n := range pubs.nodes {
			if uri, ok := m.nodeURIs[n]; ok {
				pubURIs = append(pubURIs, uri)
			}
		}
	}
	return pubURIs, nil
}

// UnregisterSubscriber implements masterapi.API.
func (m *Master) UnregisterSubscriber(_ context.Context, node, topic, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.subscribers[topic]; ok {
		delete(entry.nodes, node)
	}
	return nil
}

// RegisterService implements masterapi.API.
func (m *Master) RegisterService(_ context.Context, node, service, serviceURI, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.services[service]; ok && existing.node != node {
		return fmt.Errorf("%w: %q provides %q", masterapi.ErrServiceAlreadyProvided, existing.node, service)
	}
	m.services[service] = &serviceEntry{node: node, uri: serviceURI}
	return nil
}

// UnregisterService implements masterapi.API.
func (m *Master) UnregisterService(_ context.Context, node, service, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.services[service]; ok && existing.node == node {
		delete(m.services, service)
	}
	return nil
}

// PublisherUpdate implements masterapi.API.
func (m *Master) PublisherUpdate(_ context.Context, subscriberAPI, topic string, publisherURIs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublisherUpdates = append(m.PublisherUpdates, PublisherUpdateCall{
		SubscriberAPI: subscriberAPI,
		Topic:         topic,
		PublisherURIs: publisherURIs,
	})
	return nil
}

var _ masterapi.API = (*Master)(nil)
