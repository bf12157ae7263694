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

package config_test

import (
	"testing"
	"time"

	"github.com/rocon-io/gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"METRICS_ENABLED", "METRICS_BIND", "METRICS_PORT", "OTLP_ENDPOINT",
		"GATEWAY_NAME", "FIREWALL", "WATCHER_PERIOD", "DEFAULT_PUBLIC_INTERFACE",
		"DEFAULT_PUBLIC_BLACKLIST", "MASTER_URI", "ROS_IP", "ROS_HOSTNAME",
		"MAX_TTL", "PING_FREQUENCY", "HUB_URI", "HUB_WHITELIST", "HUB_BLACKLIST",
		"HUB_CONNECT_TIMEOUT", "HUB_CONNECT_RETRY", "FLIP_SEND_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestReloadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg := config.ReloadConfig()

	assert.Equal(t, config.LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, "gateway", cfg.Gateway.Name)
	assert.Equal(t, 3*time.Second, cfg.Gateway.WatcherPeriod)
	assert.Equal(t, 15*time.Second, cfg.Gateway.MaxTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.Gateway.PingFrequency)
	assert.Equal(t, 200*time.Millisecond, cfg.Hub.FlipPollInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 9102, cfg.Metrics.Port)
	assert.Nil(t, cfg.Gateway.DefaultPublicInterface)
}

func TestReloadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_NAME", "pirate")
	t.Setenv("MASTER_URI", "http://localhost:11311")
	t.Setenv("WATCHER_PERIOD", "5s")
	t.Setenv("FIREWALL", "true")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DEFAULT_PUBLIC_INTERFACE", "publisher:/chatter:/talker,subscriber:/odom:/listener")
	t.Setenv("HUB_WHITELIST", "concert.*, venue_.*")
	t.Setenv("FLIP_POLL_INTERVAL", "50ms")

	cfg := config.ReloadConfig()

	assert.Equal(t, "pirate", cfg.Gateway.Name)
	assert.True(t, cfg.Gateway.Firewall)
	assert.Equal(t, 5*time.Second, cfg.Gateway.WatcherPeriod)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 6380, cfg.Redis.Port)
	require.Len(t, cfg.Gateway.DefaultPublicInterface, 2)
	assert.Equal(t, config.Triple{Type: "publisher", Name: "/chatter", Node: "/talker"}, cfg.Gateway.DefaultPublicInterface[0])
	require.Len(t, cfg.Hub.Whitelist, 2)
	assert.Equal(t, "venue_.*", cfg.Hub.Whitelist[1])
	assert.Equal(t, 50*time.Millisecond, cfg.Hub.FlipPollInterval)
}

func TestGetConfigIsASingleton(t *testing.T) {
	clearEnv(t)
	t.Setenv("MASTER_URI", "http://localhost:11311")
	first := config.GetConfig()
	second := config.GetConfig()
	assert.Equal(t, first, second)
}

func TestValidateRequiresMasterURI(t *testing.T) {
	cfg := config.Config{LogLevel: config.LogLevelInfo}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingMasterURI)
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := config.Config{LogLevel: "verbose", Gateway: config.Gateway{MasterURI: "http://localhost:11311"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestValidateRejectsRedisEnabledWithoutHost(t *testing.T) {
	cfg := config.Config{
		LogLevel: config.LogLevelInfo,
		Gateway:  config.Gateway{MasterURI: "http://localhost:11311"},
		Redis:    config.Redis{Enabled: true},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrRedisEnabledWithoutHost)
}

func TestValidatePassesWithCompleteConfig(t *testing.T) {
	cfg := config.Config{
		LogLevel: config.LogLevelDebug,
		Gateway:  config.Gateway{MasterURI: "http://localhost:11311"},
	}
	assert.NoError(t, cfg.Validate())
}
