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

package cmd

import (
	"strings"
	"testing"

	"github.com/rocon-io/gateway/internal/config"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestGatewayNameAppendsUniqueSuffix(t *testing.T) {
	t.Parallel()
	first := gatewayName("gateway")
	second := gatewayName("gateway")

	assert.True(t, strings.HasPrefix(first, "gateway_"))
	assert.True(t, strings.HasPrefix(second, "gateway_"))
	assert.NotEqual(t, first, second)
}

func TestResolveROSIPPrefersNonLocalMasterHostname(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "master.example.com", resolveROSIP("http://master.example.com:11311/", "", ""))
}

func TestResolveROSIPFallsBackToConfiguredROSIPWhenMasterIsLocalhost(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "192.0.2.10", resolveROSIP("http://localhost:11311/", "192.0.2.10", ""))
}

func TestResolveROSIPFallsBackToROSHostnameWhenNoROSIPSet(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "gateway-host", resolveROSIP("http://localhost:11311/", "", "gateway-host"))
}

func TestResolveROSIPDefaultsToLocalhost(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "localhost", resolveROSIP("http://localhost:11311/", "", ""))
	assert.Equal(t, "localhost", resolveROSIP("not a url", "", ""))
}

func TestTriplesToPatternsUppercasesType(t *testing.T) {
	t.Parallel()
	patterns := triplesToPatterns([]config.Triple{
		{Type: "publisher", Name: "/chatter", Node: "/talker"},
	})

	if assert.Len(t, patterns, 1) {
		assert.Equal(t, model.Publisher, patterns[0].Type)
		assert.Equal(t, "/chatter", patterns[0].Name)
		assert.Equal(t, "/talker", patterns[0].Node)
	}
}
