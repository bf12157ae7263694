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

// Package kv provides the gateway's key-value store abstraction: the hub
// keyspace (gateway lists, advertisements, pings, flip inboxes) is built
// entirely on top of this interface, backed by either an in-memory map or
// Redis.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/rocon-io/gateway/internal/config"
)

// KV is the gateway's view of a key-value store. All operations are
// context-aware so callers can bound hub round-trips with the watcher's
// tick deadline.
type KV interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	// RPush appends a value to a list stored under key. Returns the new length.
	RPush(ctx context.Context, key string, value []byte) (int64, error)
	// LDrain atomically returns all elements of the list and deletes the key.
	LDrain(ctx context.Context, key string) ([][]byte, error)

	// SAdd adds members to the set stored under key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from the set stored under key.
	SRem(ctx context.Context, key string, members ...string) error
	// SMembers returns every member of the set stored under key.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SIsMember reports whether member is in the set stored under key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Pipeline returns a batch of writes that Exec applies atomically. Used
	// by the hub's gateway registration procedure, which touches several
	// keys (gatewaylist, ip, firewall, ping) in one round trip.
	Pipeline() Pipeline

	Close() error
}

// Pipeline accumulates writes to be applied together. Operations queue in
// call order; nothing takes effect until Exec runs.
type Pipeline interface {
	Set(key string, value []byte)
	Expire(key string, ttl time.Duration)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	Exec(ctx context.Context) error
}

// MakeKV creates a new key-value store client bound to cfg.Redis.
func MakeKV(ctx context.Context, cfg *config.Config) (KV, error) {
	if cfg.Redis.Enabled {
		redisKV, err := makeRedisKV(ctx, fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv: %w", err)
		}
		return redisKV, nil
	}

	return makeInMemoryKV(ctx, cfg)
}

// MakeKVAtAddr creates a key-value store client against addr (host:port)
// rather than cfg.Redis.Host/Port, so a gateway can hold independent Redis
// connections to several hubs at once while sharing one Redis password and
// tracing configuration. When Redis is disabled, addr is ignored and an
// in-memory store is returned, as MakeKV does.
func MakeKVAtAddr(ctx context.Context, addr string, cfg *config.Config) (KV, error) {
	if cfg.Redis.Enabled {
		redisKV, err := makeRedisKV(ctx, addr, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv at %s: %w", addr, err)
		}
		return redisKV, nil
	}

	return makeInMemoryKV(ctx, cfg)
}
