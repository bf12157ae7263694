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

package xmlrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallDecodesStringResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/xml", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<methodResponse><params><param><value><string>http://10.0.0.5:11311/</string></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var out string
	err := c.Call(context.Background(), "lookupNode", []any{"caller", "talker"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:11311/", out)
}

func TestCallDecodesFault(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<methodResponse><fault><value><string>node not found</string></value></fault></methodResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var out string
	err := c.Call(context.Background(), "lookupNode", []any{"caller", "missing"}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFault)
	assert.Contains(t, err.Error(), "node not found")
}

func TestCallDecodesNestedArrayResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
<value><int>1</int></value>
<value><string>ok</string></value>
<value><array><data>
<value><array><data>
<value><string>/chatter</string></value>
<value><array><data><value><string>/talker</string></value></data></array></value>
</data></array></value>
</data></array></value>
</data></array></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var out any
	err := c.Call(context.Background(), "getSystemState", []any{"caller"}, &out)
	require.NoError(t, err)

	triple, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, triple, 3)
	assert.Equal(t, 1, triple[0])
	assert.Equal(t, "ok", triple[1])
}

func TestCallReturnsErrorOnTransportFailure(t *testing.T) {
	t.Parallel()
	c := New("http://127.0.0.1:0")
	var out string
	err := c.Call(context.Background(), "lookupNode", []any{"caller", "talker"}, &out)
	require.Error(t, err)
}

func TestMarshalCallEncodesParamTypes(t *testing.T) {
	t.Parallel()
	body, err := marshalCall("registerPublisher", []any{"caller", "/chatter", "std_msgs/String", true, []string{"a", "b"}})
	require.NoError(t, err)
	assert.Contains(t, string(body), "<methodName>registerPublisher</methodName>")
	assert.Contains(t, string(body), "<string>caller</string>")
	assert.Contains(t, string(body), "<boolean>1</boolean>")
}

func TestMarshalCallRejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	_, err := marshalCall("lookupNode", []any{struct{}{}})
	require.Error(t, err)
}

func TestDecodeIntoBool(t *testing.T) {
	t.Parallel()
	one := 1
	var out bool
	require.NoError(t, decodeInto(value{Boolean: &one}, &out))
	assert.True(t, out)
}

func TestDecodeIntoStringSlice(t *testing.T) {
	t.Parallel()
	v := value{Array: &array{Values: []value{{String: "http://a/"}, {String: "http://b/"}}}}
	var out []string
	require.NoError(t, decodeInto(v, &out))
	assert.Equal(t, []string{"http://a/", "http://b/"}, out)
}
