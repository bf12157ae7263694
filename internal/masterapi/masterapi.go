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

// Package masterapi declares the abstract operations the gateway needs from
// a local naming authority ("master"): registering and unregistering
// publishers, subscribers, and services; enumerating the current system
// state; resolving a node to its XML-RPC URI; and nudging a subscriber with
// an updated publisher list. Two implementations exist: xmlrpc talks to a
// real master over XML-RPC, fake is an in-memory double used in tests.
package masterapi

import (
	"context"
	"errors"
)

// ErrServiceAlreadyProvided is returned by RegisterService when a different
// node already provides the named service on this master; the mirror
// treats this as a refusal rather than a fatal error.
var ErrServiceAlreadyProvided = errors.New("masterapi: service already provided by another node")

// SystemState is the master's current registration table, keyed by topic
// or service name, with the list of owning node names for each.
type SystemState struct {
	Publishers map[string][]string
	Subscribers map[string][]string
	Services    map[string][]string
}

// API is the set of master operations the gateway depends on.
type API interface {
	// GetSystemState returns the master's full publisher/subscriber/service
	// registration table.
	GetSystemState(ctx context.Context) (SystemState, error)

	// LookupNode resolves a node name to its XML-RPC URI.
	LookupNode(ctx context.Context, node string) (string, error)

	// TopicType returns the message type registered for a topic, or "" if
	// no publisher or subscriber currently advertises it.
	TopicType(ctx context.Context, topic string) (string, error)

	// ServiceURI returns the XML-RPC URI of a service's current provider.
	ServiceURI(ctx context.Context, service string) (string, error)

	// RegisterPublisher registers node as a publisher of topic with the
	// given message type. The master's list of current subscriber URIs is
	// not returned.
	RegisterPublisher(ctx context.Context, node, topic, topicType, callerAPI string) error

	// UnregisterPublisher reverses RegisterPublisher.
	UnregisterPublisher(ctx context.Context, node, topic, callerAPI string) error

	// RegisterSubscriber registers node as a subscriber of topic, returning
	// the current list of publisher XML-RPC URIs for that topic.
	RegisterSubscriber(ctx context.Context, node, topic, topicType, callerAPI string) ([]string, error)

	// UnregisterSubscriber reverses RegisterSubscriber.
	UnregisterSubscriber(ctx context.Context, node, topic, callerAPI string) error

	// RegisterService registers node as the provider of service at the
	// given service URI.
	RegisterService(ctx context.Context, node, service, serviceURI, callerAPI string) error

	// UnregisterService reverses RegisterService.
	UnregisterService(ctx context.Context, node, service, serviceURI, callerAPI string) error

	// PublisherUpdate notifies the subscriber node at subscriberAPI that
	// the publisher list for topic is now publisherURIs.
	PublisherUpdate(ctx context.Context, subscriberAPI, topic string, publisherURIs []string) error

	// URI returns the master's own XML-RPC URI.
	URI() string
}
