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

package config

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel represents the logging level for the application.
type LogLevel string

const (
	// LogLevelDebug is the debug logging level, providing detailed information.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the informational logging level, providing general information.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is the warning logging level, indicating potential issues.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is the error logging level, indicating serious issues.
	LogLevelError LogLevel = "error"
)

const (
	defaultWatcherPeriod = 3 * time.Second
	defaultPingFrequency = 200 * time.Millisecond
	defaultMaxTTL        = 15 * time.Second
	defaultHubTimeout    = 5 * time.Second
	defaultHubRetry      = 300 * time.Millisecond
	defaultFlipTimeout   = 15 * time.Second
	defaultFlipPoll      = 200 * time.Millisecond
	defaultMetricsPort   = 9102
)

// Redis describes how to reach the hub's backing key/value + pub/sub store.
type Redis struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
}

// Metrics describes the Prometheus metrics server.
type Metrics struct {
	Enabled      bool
	Bind         string
	Port         int
	OTLPEndpoint string
}

// Gateway describes this gateway's identity and reconciliation policy.
type Gateway struct {
	// Name is the suggested base name; the running gateway appends a
	// random hash to guarantee uniqueness across the hub.
	Name                   string
	Firewall               bool
	WatcherPeriod          time.Duration
	DefaultPublicInterface []Triple
	DefaultPublicBlacklist []Triple
	MasterURI              string
	ROSIP                  string
	ROSHostname            string
	MaxTTL                 time.Duration
	PingFrequency          time.Duration
}

// Hub describes the initial hub connection and connect policy.
type Hub struct {
	URI              string
	Whitelist        []string
	Blacklist        []string
	ConnectTimeout   time.Duration
	ConnectRetry     time.Duration
	FlipSendTimeout  time.Duration
	FlipPollInterval time.Duration
}

// Triple is a (type, name, node) rule shorthand used for default interface
// and blacklist configuration, e.g. "publisher:/chatter:/talker".
type Triple struct {
	Type string
	Name string
	Node string
}

// Config stores the application configuration.
type Config struct {
	LogLevel LogLevel
	Redis    Redis
	Metrics  Metrics
	Gateway  Gateway
	Hub      Hub
}

var currentConfig atomic.Value //nolint:golint,gochecknoglobals
var isInit atomic.Bool         //nolint:golint,gochecknoglobals
var loaded atomic.Bool         //nolint:golint,gochecknoglobals

func parseTriples(raw string) []Triple {
	if raw == "" {
		return nil
	}
	var triples []Triple
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			continue
		}
		triples = append(triples, Triple{Type: parts[0], Name: parts[1], Node: parts[2]})
	}
	return triples
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func loadConfig() Config {
	logLevel := LogLevel(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		logLevel = LogLevelInfo
	}

	redisHost := os.Getenv("REDIS_HOST")
	cfg := Config{
		LogLevel: logLevel,
		Redis: Redis{
			Enabled:  os.Getenv("REDIS_ENABLED") != "false" && redisHost != "",
			Host:     redisHost,
			Port:     parseInt(os.Getenv("REDIS_PORT"), 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Metrics: Metrics{
			Enabled:      os.Getenv("METRICS_ENABLED") != "false",
			Bind:         os.Getenv("METRICS_BIND"),
			Port:         parseInt(os.Getenv("METRICS_PORT"), defaultMetricsPort),
			OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		},
		Gateway: Gateway{
			Name:                   os.Getenv("GATEWAY_NAME"),
			Firewall:               os.Getenv("FIREWALL") == "true",
			WatcherPeriod:          parseDuration(os.Getenv("WATCHER_PERIOD"), defaultWatcherPeriod),
			DefaultPublicInterface: parseTriples(os.Getenv("DEFAULT_PUBLIC_INTERFACE")),
			DefaultPublicBlacklist: parseTriples(os.Getenv("DEFAULT_PUBLIC_BLACKLIST")),
			MasterURI:              os.Getenv("MASTER_URI"),
			ROSIP:                  os.Getenv("ROS_IP"),
			ROSHostname:            os.Getenv("ROS_HOSTNAME"),
			MaxTTL:                 parseDuration(os.Getenv("MAX_TTL"), defaultMaxTTL),
			PingFrequency:          parseDuration(os.Getenv("PING_FREQUENCY"), defaultPingFrequency),
		},
		Hub: Hub{
			URI:              os.Getenv("HUB_URI"),
			Whitelist:        parseList(os.Getenv("HUB_WHITELIST")),
			Blacklist:        parseList(os.Getenv("HUB_BLACKLIST")),
			ConnectTimeout:   parseDuration(os.Getenv("HUB_CONNECT_TIMEOUT"), defaultHubTimeout),
			ConnectRetry:     parseDuration(os.Getenv("HUB_CONNECT_RETRY"), defaultHubRetry),
			FlipSendTimeout:  parseDuration(os.Getenv("FLIP_SEND_TIMEOUT"), defaultFlipTimeout),
			FlipPollInterval: parseDuration(os.Getenv("FLIP_POLL_INTERVAL"), defaultFlipPoll),
		},
	}
	if cfg.Metrics.Bind == "" {
		cfg.Metrics.Bind = "[::]"
	}
	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = "gateway"
	}
	return cfg
}

// GetConfig returns the process-wide configuration, loading it from the
// environment on first access.
func GetConfig() Config {
	lastInit := isInit.Swap(true)
	if !lastInit {
		currentConfig.Store(loadConfig())
		loaded.Store(true)
	}
	for !loaded.Load() {
		time.Sleep(100 * time.Nanosecond) //nolint:golint,gomnd
	}
	cfg, ok := currentConfig.Load().(Config)
	if !ok {
		return Config{}
	}
	return cfg
}

// ReloadConfig forces a reload from the environment. Intended for tests.
func ReloadConfig() Config {
	cfg := loadConfig()
	currentConfig.Store(cfg)
	loaded.Store(true)
	isInit.Store(true)
	return cfg
}
