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

// Package watcher runs the gateway's periodic reconciliation loop: it
// snapshots the local master once per tick and reconciles the public,
// flipped, and pulled interfaces against it and against every connected
// hub, fail-soft per stage so one broken hub or one bad rule never stalls
// the others.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rocon-io/gateway/internal/flippedif"
	"github.com/rocon-io/gateway/internal/hub"
	"github.com/rocon-io/gateway/internal/hubmanager"
	"github.com/rocon-io/gateway/internal/metrics"
	"github.com/rocon-io/gateway/internal/mirror"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/rocon-io/gateway/internal/publicif"
	"github.com/rocon-io/gateway/internal/pulledif"
)

// Watcher owns one tick of the gateway's reconciliation logic and the
// ticker loop that drives it.
type Watcher struct {
	mirror  *mirror.Mirror
	public  *publicif.Interface
	flipped *flippedif.Outbound
	pulled  *pulledif.Interface
	hubs    *hubmanager.Manager
	metrics *metrics.Metrics
	log     *slog.Logger

	selfGateway  string
	firewall     bool
	period       time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	lastPosts map[postKey]bool

	stop chan struct{}
	done chan struct{}
}

type postKey struct {
	receiver string
	rule     model.Rule
}

// New assembles a Watcher from its constituent interfaces. hubs must also
// implement pulledif.Source, which *hubmanager.Manager does.
func New(m *mirror.Mirror, public *publicif.Interface, flipped *flippedif.Outbound, pulled *pulledif.Interface, hubs *hubmanager.Manager, mx *metrics.Metrics, log *slog.Logger, selfGateway string, firewall bool, period, pollInterval time.Duration) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		mirror:       m,
		public:       public,
		flipped:      flipped,
		pulled:       pulled,
		hubs:         hubs,
		metrics:      mx,
		log:          log,
		selfGateway:  selfGateway,
		firewall:     firewall,
		period:       period,
		pollInterval: pollInterval,
		lastPosts:    map[postKey]bool{},
	}
}

// Run drives Tick every period until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop := w.stop
	done := w.done
	w.mu.Unlock()
	defer close(done)

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Stop ends a running Run loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	done := w.done
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Tick runs one full reconciliation pass. Every stage after the snapshot is
// fail-soft: an error in one stage is logged and counted, and the remaining
// stages still run against whatever state was snapshotted at the top of the
// tick. A failed snapshot is logged and counted and ends the tick.
func (w *Watcher) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.RecordTick(time.Since(start).Seconds())
		}
	}()

	state, err := w.mirror.GetConnectionState(ctx)
	if err != nil {
		w.tickError("snapshot", err)
		return
	}
	current := flattenConnections(state)

	w.reconcilePublic(ctx, current)
	w.reconcileFlipped(ctx, current)
	w.reconcilePulled(ctx)
	w.reconcileInbox(ctx)
	w.publishStatistics(ctx)
}

func (w *Watcher) tickError(stage string, err error) {
	w.log.Warn("watcher tick stage failed", "stage", stage, "error", err)
	if w.metrics != nil {
		w.metrics.RecordTickError(stage)
	}
}

func flattenConnections(state map[model.ConnectionType][]model.Connection) []model.Connection {
	var out []model.Connection
	for _, conns := range state {
		out = append(out, conns...)
	}
	return out
}

func (w *Watcher) reconcilePublic(ctx context.Context, current []model.Connection) {
	toAdvertise, toUnadvertise := w.public.Update(current)
	for _, conn := range toAdvertise {
		for _, e := range w.hubs.AdvertiseAll(ctx, conn) {
			w.tickError("public", e.Err)
		}
	}
	for _, conn := range toUnadvertise {
		for _, e := range w.hubs.UnadvertiseAll(ctx, conn) {
			w.tickError("public", e.Err)
		}
	}
	if w.metrics != nil {
		counts := map[model.ConnectionType]int{}
		for _, c := range w.public.Advertised() {
			counts[c.Rule.Type]++
		}
		for t, n := range counts {
			w.metrics.SetAdvertised(string(t), float64(n))
		}
	}
}

func (w *Watcher) reconcileFlipped(ctx context.Context, current []model.Connection) {
	knownGateways := w.hubs.KnownGateways()
	details := func(t model.ConnectionType, name, node string) []model.Connection {
		return w.mirror.GenerateConnectionDetails(ctx, t, name, node)
	}
	posts := w.flipped.Reconcile(current, knownGateways, w.selfGateway, details)

	wanted := make(map[postKey]flippedif.Post, len(posts))
	for _, post := range posts {
		wanted[postKey{receiver: post.ReceiverGateway, rule: post.Rule}] = post
	}

	for key, post := range wanted {
		if err := w.hubs.SendFlipRequest(ctx, key.receiver, key.rule, post.Connection, w.pollInterval); err != nil {
			w.tickError("flipped", err)
		}
	}

	w.mu.Lock()
	previous := w.lastPosts
	w.lastPosts = make(map[postKey]bool, len(wanted))
	for key := range wanted {
		w.lastPosts[key] = true
	}
	w.mu.Unlock()

	for key := range previous {
		if _, stillWanted := wanted[key]; !stillWanted {
			if err := w.hubs.SendUnflipRequest(ctx, key.receiver, key.rule); err != nil {
				w.tickError("flipped", err)
			}
		}
	}
}

func (w *Watcher) reconcilePulled(ctx context.Context) {
	toRegister, toUnregister := w.pulled.Update(w.hubs, w.selfGateway)
	for _, reg := range toRegister {
		realized, err := w.mirror.Register(ctx, reg)
		if err != nil {
			w.tickError("pulled", err)
			continue
		}
		w.pulled.MarkRealized(reg.RemoteGateway, reg.Connection.Rule, realized)
	}
	for _, reg := range toUnregister {
		if err := w.mirror.Unregister(ctx, reg); err != nil {
			w.tickError("pulled", err)
		}
	}
}

func (w *Watcher) reconcileInbox(ctx context.Context) {
	flips, errs := w.hubs.DrainAllInboxes(ctx, w.firewall)
	for _, e := range errs {
		w.tickError("inbox", e.Err)
	}
	for _, flip := range flips {
		if flip.Decision != flippedif.DecisionRegister {
			continue
		}
		reg := model.Registration{Connection: flip.Connection, RemoteGateway: flip.SourceGateway}
		_, err := w.mirror.Register(ctx, reg)
		switch {
		case err == nil:
			if uErr := w.hubs.UpdateFlipInStatus(ctx, flip.HubURI, flip.Rule, flip.SourceGateway, model.FlipAccepted); uErr != nil {
				w.tickError("inbox", uErr)
			}
		case errors.Is(err, mirror.ErrServiceAlreadyLocal):
			if uErr := w.hubs.UpdateFlipInStatus(ctx, flip.HubURI, flip.Rule, flip.SourceGateway, model.FlipBlocked); uErr != nil {
				w.tickError("inbox", uErr)
			}
		default:
			w.tickError("inbox", err)
		}
	}
}

func (w *Watcher) publishStatistics(ctx context.Context) {
	// Real wireless/ping telemetry requires a platform-specific network
	// stats collector this gateway does not have; publish the
	// info-unavailable baseline so operators can still see this gateway
	// present in the hub's network section rather than silently absent.
	for _, e := range w.hubs.PublishNetworkStatisticsAll(ctx, hub.NetworkStatistics{}) {
		w.tickError("stats", e.Err)
	}
}
