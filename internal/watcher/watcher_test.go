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

package watcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/config"
	"github.com/rocon-io/gateway/internal/flippedif"
	"github.com/rocon-io/gateway/internal/hubmanager"
	"github.com/rocon-io/gateway/internal/kv"
	"github.com/rocon-io/gateway/internal/masterapi"
	"github.com/rocon-io/gateway/internal/masterapi/fake"
	"github.com/rocon-io/gateway/internal/mirror"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/rocon-io/gateway/internal/publicif"
	"github.com/rocon-io/gateway/internal/pulledif"
	"github.com/rocon-io/gateway/internal/watcher"
	"github.com/stretchr/testify/require"
)

// sharedKVFactory hands out one in-memory kv.KV per distinct hub URI, so two
// managers "connecting" to the same URI observe the same hub state.
type sharedKVFactory struct {
	mu     sync.Mutex
	stores map[string]kv.KV
}

func newSharedKVFactory() *sharedKVFactory {
	return &sharedKVFactory{stores: map[string]kv.KV{}}
}

func (f *sharedKVFactory) make(ctx context.Context, uri string) (kv.KV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if store, ok := f.stores[uri]; ok {
		return store, nil
	}
	store, err := kv.MakeKV(ctx, &config.Config{})
	if err != nil {
		return nil, err
	}
	f.stores[uri] = store
	return store, nil
}

func newTestManager(t *testing.T, factory *sharedKVFactory, name string) *hubmanager.Manager {
	t.Helper()
	pub, priv, err := codec.GenerateKeyPair()
	require.NoError(t, err)
	return hubmanager.New(name, pub, priv, nil, config.Hub{FlipSendTimeout: time.Second}, time.Second, time.Minute, factory.make)
}

func TestTickAdvertisesLocalConnectionAcrossHub(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	talker := fake.New("http://talker:0")
	require.NoError(t, talker.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:0"))

	m := mirror.New(talker, "http://master:11311")
	pub := publicif.New()
	pub.AdvertiseAll(nil, false)

	hubs := newTestManager(t, factory, "talker_gateway1")
	_, err := hubs.Connect(ctx, "hub-a", "10.0.0.1", false)
	require.NoError(t, err)

	watcherUnderTest := watcher.New(m, pub, flippedif.NewOutbound(), pulledif.New(), hubs, nil, nil, "talker_gateway1", false, time.Second, 5*time.Millisecond)
	watcherUnderTest.Tick(ctx)

	ads, err := func() ([]model.Connection, error) {
		// Read back what talker_gateway1 itself advertised on hub-a through
		// a second manager sharing the same backing store, mirroring how a
		// remote gateway would observe it via pulledif.Source.
		other := newTestManager(t, factory, "observer_gateway1")
		_, err := other.Connect(ctx, "hub-a", "10.0.0.2", false)
		if err != nil {
			return nil, err
		}
		return other.Advertisements("talker_gateway1"), nil
	}()
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, model.Rule{Type: model.Publisher, Name: "/chatter", Node: "/talker"}, ads[0].Rule)
}

func TestTickUnadvertisesWhenConnectionDisappears(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	talker := fake.New("http://talker:0")
	require.NoError(t, talker.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:0"))

	m := mirror.New(talker, "http://master:11311")
	pub := publicif.New()
	pub.AdvertiseAll(nil, false)

	hubs := newTestManager(t, factory, "talker_gateway2")
	_, err := hubs.Connect(ctx, "hub-a", "10.0.0.1", false)
	require.NoError(t, err)

	watcherUnderTest := watcher.New(m, pub, flippedif.NewOutbound(), pulledif.New(), hubs, nil, nil, "talker_gateway2", false, time.Second, 5*time.Millisecond)
	watcherUnderTest.Tick(ctx)
	require.Len(t, pub.Advertised(), 1)

	require.NoError(t, talker.UnregisterPublisher(ctx, "/talker", "/chatter", "http://talker:0"))
	watcherUnderTest.Tick(ctx)
	require.Empty(t, pub.Advertised())
}

func TestTickFlipsConnectionToKnownGateway(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	talker := fake.New("http://talker:0")
	require.NoError(t, talker.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:0"))

	senderMirror := mirror.New(talker, "http://master:11311")
	senderHubs := newTestManager(t, factory, "sender_gateway01")
	_, err := senderHubs.Connect(ctx, "hub-a", "10.0.0.1", false)
	require.NoError(t, err)

	receiverHubs := newTestManager(t, factory, "receiver_gateway1")
	_, err = receiverHubs.Connect(ctx, "hub-a", "10.0.0.2", false)
	require.NoError(t, err)

	flipped := flippedif.NewOutbound()
	flipped.AddRule(model.RemoteRule{
		TargetGateway: "receiver_gateway1",
		Rule:          model.Rule{Type: model.Publisher, Name: "/chatter", Node: ".*"},
	})

	senderWatcher := watcher.New(senderMirror, publicif.New(), flipped, pulledif.New(), senderHubs, nil, nil, "sender_gateway01", false, time.Second, 5*time.Millisecond)
	senderWatcher.Tick(ctx)

	flips, errs := receiverHubs.DrainAllInboxes(ctx, false)
	require.Empty(t, errs)
	require.Len(t, flips, 1)
	require.Equal(t, "sender_gateway01", flips[0].SourceGateway)
	require.Equal(t, model.Rule{Type: model.Publisher, Name: "/chatter", Node: "/talker"}, flips[0].Rule)

	status, err := senderHubs.GetMultipleFlipRequestStatus(ctx, "receiver_gateway1", []model.Rule{flips[0].Rule})
	require.NoError(t, err)
	require.Equal(t, model.FlipPending, status)
}

func TestTickUnflipsWhenRuleRemoved(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	talker := fake.New("http://talker:0")
	require.NoError(t, talker.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://talker:0"))

	senderMirror := mirror.New(talker, "http://master:11311")
	senderHubs := newTestManager(t, factory, "sender_gateway02")
	_, err := senderHubs.Connect(ctx, "hub-a", "10.0.0.1", false)
	require.NoError(t, err)

	receiverHubs := newTestManager(t, factory, "receiver_gateway2")
	_, err = receiverHubs.Connect(ctx, "hub-a", "10.0.0.2", false)
	require.NoError(t, err)

	rule := model.RemoteRule{
		TargetGateway: "receiver_gateway2",
		Rule:          model.Rule{Type: model.Publisher, Name: "/chatter", Node: ".*"},
	}
	flipped := flippedif.NewOutbound()
	flipped.AddRule(rule)

	senderWatcher := watcher.New(senderMirror, publicif.New(), flipped, pulledif.New(), senderHubs, nil, nil, "sender_gateway02", false, time.Second, 5*time.Millisecond)
	senderWatcher.Tick(ctx)

	flips, errs := receiverHubs.DrainAllInboxes(ctx, false)
	require.Empty(t, errs)
	require.Len(t, flips, 1)

	flipped.RemoveRule(rule)
	senderWatcher.Tick(ctx)

	status, err := senderHubs.GetMultipleFlipRequestStatus(ctx, "receiver_gateway2", []model.Rule{flips[0].Rule})
	require.NoError(t, err)
	require.Equal(t, model.FlipUnknown, status)
}

func TestTickRegistersPulledConnection(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	publisherMaster := fake.New("http://publisher:0")
	require.NoError(t, publisherMaster.RegisterPublisher(ctx, "/talker", "/chatter", "std_msgs/String", "http://publisher:0"))
	publisherMirror := mirror.New(publisherMaster, "http://publisher-master:11311")

	publisherHubs := newTestManager(t, factory, "source_gateway001")
	_, err := publisherHubs.Connect(ctx, "hub-a", "10.0.0.1", false)
	require.NoError(t, err)

	pubIf := publicif.New()
	pubIf.AdvertiseAll(nil, false)
	publisherWatcher := watcher.New(publisherMirror, pubIf, flippedif.NewOutbound(), pulledif.New(), publisherHubs, nil, nil, "source_gateway001", false, time.Second, 5*time.Millisecond)
	publisherWatcher.Tick(ctx)

	pullerMaster := fake.New("http://puller:0")
	pullerMirror := mirror.New(pullerMaster, "http://puller-master:11311")
	pullerHubs := newTestManager(t, factory, "sink_gateway0001")
	_, err = pullerHubs.Connect(ctx, "hub-a", "10.0.0.2", false)
	require.NoError(t, err)

	pulled := pulledif.New()
	pulled.AddRule(model.RemoteRule{
		TargetGateway: "source_gateway001",
		Rule:          model.Rule{Type: model.Publisher, Name: "/chatter", Node: ".*"},
	})

	pullerWatcher := watcher.New(pullerMirror, publicif.New(), flippedif.NewOutbound(), pulled, pullerHubs, nil, nil, "sink_gateway0001", false, time.Second, 5*time.Millisecond)
	pullerWatcher.Tick(ctx)

	state, err := pullerMirror.GetConnectionState(ctx)
	require.NoError(t, err)
	require.Len(t, state[model.Publisher], 1)
	require.Equal(t, "/chatter", state[model.Publisher][0].Rule.Name)
}

func TestTickIsFailSoftWhenSnapshotFails(t *testing.T) {
	t.Parallel()
	factory := newSharedKVFactory()
	ctx := context.Background()

	m := mirror.New(&failingMaster{Master: fake.New("http://broken:0")}, "http://master:11311")
	hubs := newTestManager(t, factory, "broken_gateway01")

	watcherUnderTest := watcher.New(m, publicif.New(), flippedif.NewOutbound(), pulledif.New(), hubs, nil, nil, "broken_gateway01", false, time.Second, 5*time.Millisecond)
	require.NotPanics(t, func() { watcherUnderTest.Tick(ctx) })
}

// failingMaster wraps a working fake.Master but fails GetSystemState, so a
// Tick's very first stage - the snapshot - errors and every later stage must
// still be skipped without panicking.
type failingMaster struct {
	*fake.Master
}

func (f *failingMaster) GetSystemState(_ context.Context) (masterapi.SystemState, error) {
	return masterapi.SystemState{}, errors.New("master unreachable")
}
