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
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMasterHandler dispatches on the methodName embedded in the request body
// and writes back a canned (code, statusMessage, value) triple.
func fakeMasterHandler(t *testing.T, responses map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body := string(raw)
		for method, resp := range responses {
			if strings.Contains(body, fmt.Sprintf("<methodName>%s</methodName>", method)) {
				_, _ = w.Write([]byte(resp))
				return
			}
		}
		t.Fatalf("unexpected xmlrpc call body: %s", body)
	}
}

func successTriple(value string) string {
	return `<?xml version="1.0"?><methodResponse><params><param><value><array><data>
<value><int>1</int></value>
<value><string>ok</string></value>
<value>` + value + `</value>
</data></array></value></param></params></methodResponse>`
}

func TestMasterLookupNode(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(fakeMasterHandler(t, map[string]string{
		"lookupNode": successTriple(`<string>http://10.0.0.5:11311/</string>`),
	}))
	defer srv.Close()

	m := NewMaster(srv.URL, "gateway1", "http://localhost:0/")
	uri, err := m.LookupNode(context.Background(), "/talker")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:11311/", uri)
}

func TestMasterLookupNodeReturnsErrorOnFailureCode(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(fakeMasterHandler(t, map[string]string{
		"lookupNode": `<?xml version="1.0"?><methodResponse><params><param><value><array><data>
<value><int>-1</int></value>
<value><string>unknown node /ghost</string></value>
<value><string></string></value>
</data></array></value></param></params></methodResponse>`,
	}))
	defer srv.Close()

	m := NewMaster(srv.URL, "gateway1", "http://localhost:0/")
	_, err := m.LookupNode(context.Background(), "/ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node /ghost")
}

func TestMasterGetSystemState(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(fakeMasterHandler(t, map[string]string{
		"getSystemState": successTriple(`<array><data>
<value><array><data>
<value><array><data>
<value><string>/chatter</string></value>
<value><array><data><value><string>/talker</string></value></data></array></value>
</data></array></value>
</data></array></value>
<value><array><data></data></array></value>
<value><array><data></data></array></value>
</data></array>`),
	}))
	defer srv.Close()

	m := NewMaster(srv.URL, "gateway1", "http://localhost:0/")
	state, err := m.GetSystemState(context.Background())
	require.NoError(t, err)
	require.Contains(t, state.Publishers, "/chatter")
	assert.Equal(t, []string{"/talker"}, state.Publishers["/chatter"])
	assert.Empty(t, state.Subscribers)
	assert.Empty(t, state.Services)
}

func TestMasterRegisterSubscriberReturnsPublisherURIs(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(fakeMasterHandler(t, map[string]string{
		"registerSubscriber": successTriple(`<array><data>
<value><string>http://10.0.0.1:11312/</string></value>
<value><string>http://10.0.0.2:11312/</string></value>
</data></array>`),
	}))
	defer srv.Close()

	m := NewMaster(srv.URL, "gateway1", "http://localhost:0/")
	uris, err := m.RegisterSubscriber(context.Background(), "gateway1_chatter_listener", "/chatter", "std_msgs/String", "http://localhost:0/")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://10.0.0.1:11312/", "http://10.0.0.2:11312/"}, uris)
}

func TestMasterAsIdentifiesAsDifferentCaller(t *testing.T) {
	t.Parallel()
	var gotCallerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), "<string>mirrored_node</string>") {
			gotCallerID = "mirrored_node"
		}
		_, _ = w.Write([]byte(successTriple(`<string></string>`)))
	}))
	defer srv.Close()

	m := NewMaster(srv.URL, "gateway1", "http://localhost:0/")
	err := m.RegisterPublisher(context.Background(), "mirrored_node", "/chatter", "std_msgs/String", "http://localhost:0/")
	require.NoError(t, err)
	assert.Equal(t, "mirrored_node", gotCallerID)
}

func TestMasterURIReturnsOwnEndpoint(t *testing.T) {
	t.Parallel()
	m := NewMaster("http://master:11311/", "gateway1", "http://10.0.0.9:0/")
	assert.Equal(t, "http://10.0.0.9:0/", m.URI())
}
