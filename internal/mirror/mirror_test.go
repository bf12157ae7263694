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

package mirror_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rocon-io/gateway/internal/masterapi/fake"
	"github.com/rocon-io/gateway/internal/mirror"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refusingMaster wraps a fake.Master so RegisterPublisher and
// RegisterService can be made to fail as if the local master's socket
// refused the connection, the one class of error the mirror must NOT
// swallow outside the subscriber's publisher-update notify step.
type refusingMaster struct {
	*fake.Master
	refusePublish bool
	refuseService bool
}

func (m *refusingMaster) RegisterPublisher(ctx context.Context, node, topic, topicType, callerAPI string) error {
	if m.refusePublish {
		return errors.New("dial tcp 127.0.0.1:11311: connect: connection refused")
	}
	return m.Master.RegisterPublisher(ctx, node, topic, topicType, callerAPI)
}

func (m *refusingMaster) RegisterService(ctx context.Context, node, service, serviceURI, callerAPI string) error {
	if m.refuseService {
		return errors.New("dial tcp 127.0.0.1:11311: connect: connection refused")
	}
	return m.Master.RegisterService(ctx, node, service, serviceURI, callerAPI)
}

func setupActionServer(t *testing.T, m *fake.Master) {
	t.Helper()
	ctx := context.Background()
	node := "/fibonacci_server"
	uri := "http://fibserver:1"
	m.SetNodeURI(node, uri)
	require.NoError(t, m.RegisterSubscriber(ctx, node, "/fibonacci/goal", "fibonacci_msgs/FibonacciActionGoal", uri))
	require.NoError(t, m.RegisterSubscriber(ctx, node, "/fibonacci/cancel", "actionlib_msgs/GoalID", uri))
	require.NoError(t, m.RegisterPublisher(ctx, node, "/fibonacci/status", "actionlib_msgs/GoalStatusArray", uri))
	require.NoError(t, m.RegisterPublisher(ctx, node, "/fibonacci/feedback", "fibonacci_msgs/FibonacciActionFeedback", uri))
	require.NoError(t, m.RegisterPublisher(ctx, node, "/fibonacci/result", "fibonacci_msgs/FibonacciActionResult", uri))
}

func TestGetConnectionStateFusesActionServer(t *testing.T) {
	m := fake.New("http://master:0")
	setupActionServer(t, m)
	mi := mirror.New(m, "http://localhost:11311")

	state, err := mi.GetConnectionState(context.Background())
	require.NoError(t, err)

	require.Len(t, state[model.ActionServer], 1)
	assert.Equal(t, "/fibonacci", state[model.ActionServer][0].Rule.Name)
	assert.Equal(t, "fibonacci_msgs/Fibonacci", state[model.ActionServer][0].TypeInfo)

	// the five sub-topics must be fully consumed, not reported again as
	// plain publishers/subscribers.
	assert.Empty(t, state[model.Publisher])
	assert.Empty(t, state[model.Subscriber])
}

func TestGetConnectionStateLeavesPlainTopicsAlone(t *testing.T) {
	ctx := context.Background()
	m := fake.New("http://master:0")
	m.SetNodeURI("/talker", "http://talker:1")
	require.NoError(t, m.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:1"))

	mi := mirror.New(m, "http://localhost:11311")
	state, err := mi.GetConnectionState(ctx)
	require.NoError(t, err)

	require.Len(t, state[model.Publisher], 1)
	assert.Equal(t, "/chatter", state[model.Publisher][0].Rule.Name)
	assert.Empty(t, state[model.ActionServer])
}

func TestRegisterSubscriberSendsPublisherUpdate(t *testing.T) {
	ctx := context.Background()
	m := fake.New("http://master:0")
	m.SetNodeURI("/talker", "http://talker:1")
	require.NoError(t, m.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:1"))

	mi := mirror.New(m, "http://localhost:11311")
	reg := model.Registration{
		Connection: model.Connection{
			Rule:      model.Rule{Type: model.Subscriber, Name: "/chatter"},
			TypeInfo:  "std_msgs/String",
			XMLRPCURI: "http://remote-listener:2",
		},
		RemoteGateway: "concert_ab12",
	}
	got, err := mi.Register(ctx, reg)
	require.NoError(t, err)
	assert.NotEmpty(t, got.LocalNode)

	require.Len(t, m.PublisherUpdates, 1)
	assert.Equal(t, []string{"http://talker:1"}, m.PublisherUpdates[0].PublisherURIs)
}

func TestRegisterServiceRefusesWhenAlreadyLocal(t *testing.T) {
	ctx := context.Background()
	m := fake.New("http://master:0")
	require.NoError(t, m.RegisterService(ctx, "/node_a", "/add_two_ints", "http://a:1", "http://a:1"))

	mi := mirror.New(m, "http://localhost:11311")
	reg := model.Registration{
		Connection: model.Connection{
			Rule:      model.Rule{Type: model.Service, Name: "/add_two_ints"},
			TypeInfo:  "http://remote:9",
			XMLRPCURI: "http://remote:9",
		},
	}
	_, err := mi.Register(ctx, reg)
	require.ErrorIs(t, err, mirror.ErrServiceAlreadyLocal)
}

func TestRegisterPublisherDoesNotSwallowConnectionRefused(t *testing.T) {
	ctx := context.Background()
	m := &refusingMaster{Master: fake.New("http://master:0"), refusePublish: true}
	mi := mirror.New(m, "http://localhost:11311")

	reg := model.Registration{
		Connection: model.Connection{
			Rule:      model.Rule{Type: model.Publisher, Name: "/chatter"},
			TypeInfo:  "std_msgs/String",
			XMLRPCURI: "http://remote-talker:1",
		},
	}
	_, err := mi.Register(ctx, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRegisterServiceDoesNotSwallowConnectionRefused(t *testing.T) {
	ctx := context.Background()
	m := &refusingMaster{Master: fake.New("http://master:0"), refuseService: true}
	mi := mirror.New(m, "http://localhost:11311")

	reg := model.Registration{
		Connection: model.Connection{
			Rule:      model.Rule{Type: model.Service, Name: "/add_two_ints"},
			TypeInfo:  "http://remote:9",
			XMLRPCURI: "http://remote:9",
		},
	}
	_, err := mi.Register(ctx, reg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, mirror.ErrServiceAlreadyLocal))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRegisterAndUnregisterActionServerQuintuplet(t *testing.T) {
	ctx := context.Background()
	m := fake.New("http://master:0")
	mi := mirror.New(m, "http://localhost:11311")

	reg := model.Registration{
		Connection: model.Connection{
			Rule:      model.Rule{Type: model.ActionServer, Name: "/fibonacci"},
			TypeInfo:  "fibonacci_msgs/Fibonacci",
			XMLRPCURI: "http://remote-server:3",
		},
	}
	got, err := mi.Register(ctx, reg)
	require.NoError(t, err)
	require.NotEmpty(t, got.LocalNode)

	state, err := m.GetSystemState(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Subscribers, "/fibonacci/goal")
	assert.Contains(t, state.Subscribers, "/fibonacci/cancel")
	assert.Contains(t, state.Publishers, "/fibonacci/status")
	assert.Contains(t, state.Publishers, "/fibonacci/feedback")
	assert.Contains(t, state.Publishers, "/fibonacci/result")

	require.NoError(t, mi.Unregister(ctx, got))
	state, err = m.GetSystemState(ctx)
	require.NoError(t, err)
	assert.NotContains(t, state.Subscribers, "/fibonacci/goal")
	assert.NotContains(t, state.Publishers, "/fibonacci/status")
}

func TestGetROSIPPrefersOverrideForLocalhost(t *testing.T) {
	t.Setenv("ROS_IP", "10.0.0.5")
	mi := mirror.New(fake.New("http://master:0"), "http://localhost:11311")
	assert.Equal(t, "10.0.0.5", mi.GetROSIP())
}

func TestGetROSIPUsesMasterHostnameWhenNotLocalhost(t *testing.T) {
	mi := mirror.New(fake.New("http://master:0"), "http://concert.example.com:11311")
	assert.Equal(t, "concert.example.com", mi.GetROSIP())
}
