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

package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rocon-io/gateway/internal/config"
)

func makeInMemoryKV(_ context.Context, _ *config.Config) (KV, error) {
	return &inMemoryKV{
		kv: xsync.NewMap[string, *kvValue](),
	}, nil
}

type kvValue struct {
	mu     sync.Mutex
	values [][]byte
	set    map[string]struct{}
	ttl    time.Time
}

func (v *kvValue) expired() bool {
	return !v.ttl.IsZero() && v.ttl.Before(time.Now())
}

type inMemoryKV struct {
	// mu serializes multi-key operations (Pipeline.Exec) against everything
	// else so a pipelined registration is never observed half-applied.
	mu sync.Mutex
	kv *xsync.Map[string, *kvValue]
}

func (kv *inMemoryKV) load(key string) (*kvValue, bool) {
	val, ok := kv.kv.Load(key)
	if !ok {
		return nil, false
	}
	val.mu.Lock()
	if val.expired() {
		val.mu.Unlock()
		kv.kv.Delete(key)
		return nil, false
	}
	val.mu.Unlock()
	return val, true
}

func (kv *inMemoryKV) Has(_ context.Context, key string) (bool, error) {
	_, ok := kv.load(key)
	return ok, nil
}

func (kv *inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := kv.load(key)
	if !ok {
		return nil, fmt.Errorf("key %s not found", key)
	}
	val.mu.Lock()
	defer val.mu.Unlock()
	if len(val.values) == 0 {
		return nil, fmt.Errorf("key %s has no values", key)
	}
	return val.values[0], nil
}

func (kv *inMemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.kv.Store(key, &kvValue{values: [][]byte{value}})
	return nil
}

func (kv *inMemoryKV) Delete(_ context.Context, key string) error {
	kv.kv.Delete(key)
	return nil
}

func (kv *inMemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	val, ok := kv.kv.Load(key)
	if !ok {
		return fmt.Errorf("key %s not found", key)
	}
	if ttl <= 0 {
		kv.kv.Delete(key)
		return nil
	}
	val.mu.Lock()
	val.ttl = time.Now().Add(ttl)
	val.mu.Unlock()
	return nil
}

func (kv *inMemoryKV) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	keys := make([]string, 0)
	kv.kv.Range(func(key string, val *kvValue) bool {
		val.mu.Lock()
		expired := val.expired()
		val.mu.Unlock()
		if expired {
			kv.kv.Delete(key)
			return true
		}
		if match == "" || matchGlob(match, key) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, 0, nil
}

func (kv *inMemoryKV) RPush(_ context.Context, key string, value []byte) (int64, error) {
	val, _ := kv.kv.LoadOrStore(key, &kvValue{})
	val.mu.Lock()
	defer val.mu.Unlock()
	val.values = append(val.values, value)
	return int64(len(val.values)), nil
}

func (kv *inMemoryKV) LDrain(_ context.Context, key string) ([][]byte, error) {
	val, ok := kv.kv.LoadAndDelete(key)
	if !ok {
		return nil, nil
	}
	val.mu.Lock()
	defer val.mu.Unlock()
	return val.values, nil
}

func (kv *inMemoryKV) SAdd(_ context.Context, key string, members ...string) error {
	val, _ := kv.kv.LoadOrStore(key, &kvValue{})
	val.mu.Lock()
	defer val.mu.Unlock()
	if val.set == nil {
		val.set = make(map[string]struct{}, len(members))
	}
	for _, m := range members {
		val.set[m] = struct{}{}
	}
	return nil
}

func (kv *inMemoryKV) SRem(_ context.Context, key string, members ...string) error {
	val, ok := kv.kv.Load(key)
	if !ok {
		return nil
	}
	val.mu.Lock()
	defer val.mu.Unlock()
	for _, m := range members {
		delete(val.set, m)
	}
	return nil
}

func (kv *inMemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	val, ok := kv.load(key)
	if !ok {
		return nil, nil
	}
	val.mu.Lock()
	defer val.mu.Unlock()
	out := make([]string, 0, len(val.set))
	for m := range val.set {
		out = append(out, m)
	}
	return out, nil
}

func (kv *inMemoryKV) SIsMember(_ context.Context, key, member string) (bool, error) {
	val, ok := kv.load(key)
	if !ok {
		return false, nil
	}
	val.mu.Lock()
	defer val.mu.Unlock()
	_, present := val.set[member]
	return present, nil
}

func (kv *inMemoryKV) Close() error {
	return nil
}

func (kv *inMemoryKV) Pipeline() Pipeline {
	return &memoryPipeline{store: kv}
}

type memoryOp struct {
	kind    string
	key     string
	value   []byte
	ttl     time.Duration
	members []string
}

type memoryPipeline struct {
	store *inMemoryKV
	ops   []memoryOp
}

func (p *memoryPipeline) Set(key string, value []byte) {
	p.ops = append(p.ops, memoryOp{kind: "set", key: key, value: value})
}

func (p *memoryPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, memoryOp{kind: "expire", key: key, ttl: ttl})
}

func (p *memoryPipeline) SAdd(key string, members ...string) {
	p.ops = append(p.ops, memoryOp{kind: "sadd", key: key, members: members})
}

func (p *memoryPipeline) SRem(key string, members ...string) {
	p.ops = append(p.ops, memoryOp{kind: "srem", key: key, members: members})
}

func (p *memoryPipeline) Exec(ctx context.Context) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		var err error
		switch op.kind {
		case "set":
			err = p.store.Set(ctx, op.key, op.value)
		case "expire":
			err = p.store.Expire(ctx, op.key, op.ttl)
		case "sadd":
			err = p.store.SAdd(ctx, op.key, op.members...)
		case "srem":
			err = p.store.SRem(ctx, op.key, op.members...)
		}
		if err != nil {
			return fmt.Errorf("pipeline op %s on %s: %w", op.kind, op.key, err)
		}
	}
	return nil
}

// matchGlob implements the small subset of redis SCAN MATCH glob syntax the
// gateway's keyspace actually uses: a literal prefix followed by a trailing
// "*".
func matchGlob(pattern, key string) bool {
	if pattern == key {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return false
}
