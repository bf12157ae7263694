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

package codec_test

import (
	"testing"

	"github.com/rocon-io/gateway/internal/codec"
	"github.com/rocon-io/gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeConnectionRoundTrip(t *testing.T) {
	c := model.Connection{
		Rule:      model.Rule{Type: model.Publisher, Name: "/chatter", Node: "/talker"},
		TypeInfo:  "std_msgs/String",
		XMLRPCURI: "http://talker-host:54321",
	}
	wire, err := codec.SerializeConnection(c)
	require.NoError(t, err)
	assert.NotEmpty(t, wire)

	got, err := codec.DeserializeConnection(wire)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestSerializeKeyRoundTrip(t *testing.T) {
	pub, _, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	wire := codec.SerializeKey(pub)
	got, err := codec.DeserializeKey(wire)
	require.NoError(t, err)
	assert.Equal(t, [codec.KeySize]byte(pub), got)
}

func TestDeserializeKeyRejectsWrongLength(t *testing.T) {
	_, err := codec.DeserializeKey("dG9vc2hvcnQ=")
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrInvalidKeyLength)
}

func TestEncryptDecryptConnectionRoundTrip(t *testing.T) {
	pub, priv, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	c := model.Connection{
		Rule:      model.Rule{Type: model.ActionServer, Name: "/fibonacci", Node: "/fib_server"},
		TypeInfo:  "fibonacci_msgs/Fibonacci",
		XMLRPCURI: "http://fib-host:12345",
	}

	sealed, err := codec.EncryptConnection(c, pub)
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)

	got, err := codec.DecryptConnection(sealed, priv)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecryptConnectionWithWrongKeyFails(t *testing.T) {
	pub, _, err := codec.GenerateKeyPair()
	require.NoError(t, err)
	_, otherPriv, err := codec.GenerateKeyPair()
	require.NoError(t, err)

	c := model.Connection{Rule: model.Rule{Type: model.Publisher, Name: "/chatter", Node: "/talker"}, TypeInfo: "std_msgs/String"}
	sealed, err := codec.EncryptConnection(c, pub)
	require.NoError(t, err)

	_, err = codec.DecryptConnection(sealed, otherPriv)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrDecryptFailed)
}

func TestSerializeRequestRoundTrip(t *testing.T) {
	wire, err := codec.SerializeRequest(model.FlipPending, "concert_a1b2", "sealed-blob")
	require.NoError(t, err)

	req, err := codec.DeserializeRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, model.FlipPending, req.Status)
	assert.Equal(t, "concert_a1b2", req.SourceGateway)
	assert.Equal(t, "sealed-blob", req.SealedConn)
}
