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
	"errors"
	"fmt"
)

var (
	// ErrMissingMasterURI is returned when no master (ROS) URI is configured.
	ErrMissingMasterURI = errors.New("config: MASTER_URI is required")
	// ErrInvalidLogLevel is returned when LOG_LEVEL is not one of the known levels.
	ErrInvalidLogLevel = errors.New("config: invalid LOG_LEVEL")
	// ErrRedisEnabledWithoutHost is returned when Redis is enabled but no host is set.
	ErrRedisEnabledWithoutHost = errors.New("config: REDIS_ENABLED is true but REDIS_HOST is empty")
)

// Validate checks the configuration for internal consistency, returning every
// problem found rather than stopping at the first one.
func (c Config) Validate() error {
	var errs []error

	if c.Gateway.MasterURI == "" {
		errs = append(errs, ErrMissingMasterURI)
	}

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel))
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		errs = append(errs, ErrRedisEnabledWithoutHost)
	}

	for _, t := range c.Gateway.DefaultPublicInterface {
		if err := validateTriple(t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range c.Gateway.DefaultPublicBlacklist {
		if err := validateTriple(t); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateTriple(t Triple) error {
	if t.Type == "" || t.Name == "" {
		return fmt.Errorf("config: invalid rule triple %+v: type and name are required", t)
	}
	return nil
}
