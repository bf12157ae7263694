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

// Package codec implements the wire encoding for connections and flip
// requests, and the asymmetric encryption of the sensitive fields of a
// Connection en route to a flip receiver.
//
// Keys are NaCl box keypairs (Curve25519 + XSalsa20-Poly1305) rather than
// RSA: the gateway only ever needs to seal a small, fixed-shape payload to
// one recipient, which is exactly box's use case, and it avoids pulling in
// a second asymmetric primitive when crypto/nacl already sits in the
// dependency graph.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rocon-io/gateway/internal/model"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length in bytes of a serialized NaCl box key.
const KeySize = 32

// PublicKey and PrivateKey are serializable NaCl box keys.
type (
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
)

// ErrInvalidKeyLength is returned by DeserializeKey when the input is not
// exactly KeySize bytes after decoding.
var ErrInvalidKeyLength = errors.New("codec: invalid key length")

// ErrDecryptFailed is returned by DecryptConnection when the sealed box
// cannot be opened, e.g. because it was encrypted for a different key.
var ErrDecryptFailed = errors.New("codec: failed to decrypt connection")

// GenerateKeyPair creates a new NaCl box keypair for the lifetime of a
// gateway process.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("codec: generate keypair: %w", err)
	}
	return PublicKey(*pub), PrivateKey(*priv), nil
}

// SerializeKey renders a key as a base64 string suitable for storage as a
// hub value.
func SerializeKey(key [KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// DeserializeKey parses a key previously produced by SerializeKey.
func DeserializeKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("codec: decode key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// wireConnection is the JSON shape of a Connection on the wire. Rule fields
// travel in the clear so a receiver can route and deduplicate without
// decrypting. TypeInfo and XMLRPCURI are always plaintext here; encrypted
// flip mailbox entries use EncryptConnection's separate envelope.
type wireConnection struct {
	Type      model.ConnectionType `json:"type"`
	Name      string               `json:"name"`
	Node      string               `json:"node"`
	TypeInfo  string               `json:"type_info"`
	XMLRPCURI string               `json:"xmlrpc_uri"`
	Sealed    bool                 `json:"sealed,omitempty"`
}

// SerializeConnection renders a Connection as a single opaque string
// suitable for storage as one hub set element.
func SerializeConnection(c model.Connection) (string, error) {
	raw, err := json.Marshal(wireConnection{
		Type:      c.Rule.Type,
		Name:      c.Rule.Name,
		Node:      c.Rule.Node,
		TypeInfo:  c.TypeInfo,
		XMLRPCURI: c.XMLRPCURI,
	})
	if err != nil {
		return "", fmt.Errorf("codec: serialize connection: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeserializeConnection is the inverse of SerializeConnection.
func DeserializeConnection(wire string) (model.Connection, error) {
	w, err := decodeWireConnection(wire)
	if err != nil {
		return model.Connection{}, err
	}
	return connectionFromWire(w), nil
}

func decodeWireConnection(wire string) (wireConnection, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return wireConnection{}, fmt.Errorf("codec: decode connection: %w", err)
	}
	var w wireConnection
	if err := json.Unmarshal(raw, &w); err != nil {
		return wireConnection{}, fmt.Errorf("codec: unmarshal connection: %w", err)
	}
	return w, nil
}

func connectionFromWire(w wireConnection) model.Connection {
	return model.Connection{
		Rule:      model.Rule{Type: w.Type, Name: w.Name, Node: w.Node},
		TypeInfo:  w.TypeInfo,
		XMLRPCURI: w.XMLRPCURI,
	}
}

// EncryptConnection seals TypeInfo and XMLRPCURI for the given recipient
// public key, leaving the Rule fields in the clear, and returns the wire
// form of the result.
func EncryptConnection(c model.Connection, recipient PublicKey) (string, error) {
	plain, err := json.Marshal(struct {
		TypeInfo  string `json:"type_info"`
		XMLRPCURI string `json:"xmlrpc_uri"`
	}{c.TypeInfo, c.XMLRPCURI})
	if err != nil {
		return "", fmt.Errorf("codec: marshal sensitive fields: %w", err)
	}

	senderPub, senderPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("codec: generate ephemeral keypair: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("codec: generate nonce: %w", err)
	}
	recipientKey := [KeySize]byte(recipient)
	sealed := box.Seal(nonce[:], plain, &nonce, &recipientKey, senderPriv)

	raw, err := json.Marshal(struct {
		Type      model.ConnectionType `json:"type"`
		Name      string               `json:"name"`
		Node      string               `json:"node"`
		SenderPub PublicKey            `json:"sender_pub"`
		Sealed    []byte               `json:"sealed"`
	}{c.Rule.Type, c.Rule.Name, c.Rule.Node, PublicKey(*senderPub), sealed})
	if err != nil {
		return "", fmt.Errorf("codec: marshal sealed connection: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecryptConnection opens a connection previously sealed by EncryptConnection
// using the recipient's private key.
func DecryptConnection(wire string, recipientPriv PrivateKey) (model.Connection, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return model.Connection{}, fmt.Errorf("codec: decode sealed connection: %w", err)
	}
	var sealedEnv struct {
		Type      model.ConnectionType `json:"type"`
		Name      string               `json:"name"`
		Node      string               `json:"node"`
		SenderPub PublicKey            `json:"sender_pub"`
		Sealed    []byte               `json:"sealed"`
	}
	if err := json.Unmarshal(raw, &sealedEnv); err != nil {
		return model.Connection{}, fmt.Errorf("codec: unmarshal sealed connection: %w", err)
	}
	if len(sealedEnv.Sealed) < 24 {
		return model.Connection{}, ErrDecryptFailed
	}
	var nonce [24]byte
	copy(nonce[:], sealedEnv.Sealed[:24])
	senderKey := [KeySize]byte(sealedEnv.SenderPub)
	privKey := [KeySize]byte(recipientPriv)
	plain, ok := box.Open(nil, sealedEnv.Sealed[24:], &nonce, &senderKey, &privKey)
	if !ok {
		return model.Connection{}, ErrDecryptFailed
	}
	var fields struct {
		TypeInfo  string `json:"type_info"`
		XMLRPCURI string `json:"xmlrpc_uri"`
	}
	if err := json.Unmarshal(plain, &fields); err != nil {
		return model.Connection{}, fmt.Errorf("codec: unmarshal decrypted fields: %w", err)
	}
	return model.Connection{
		Rule:      model.Rule{Type: sealedEnv.Type, Name: sealedEnv.Name, Node: sealedEnv.Node},
		TypeInfo:  fields.TypeInfo,
		XMLRPCURI: fields.XMLRPCURI,
	}, nil
}

// FlipRequest is the logical shape of a flip mailbox entry.
type FlipRequest struct {
	Status         model.FlipStatus
	SourceGateway  string
	SealedConn     string // wire form produced by EncryptConnection
}

// SerializeRequest renders a FlipRequest as a single opaque string suitable
// for storage as one hub set element.
func SerializeRequest(status model.FlipStatus, sourceGateway string, sealedConn string) (string, error) {
	raw, err := json.Marshal(struct {
		Status     model.FlipStatus `json:"status"`
		Source     string           `json:"source"`
		SealedConn string           `json:"conn"`
	}{status, sourceGateway, sealedConn})
	if err != nil {
		return "", fmt.Errorf("codec: serialize request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeserializeRequest is the inverse of SerializeRequest.
func DeserializeRequest(wire string) (FlipRequest, error) {
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return FlipRequest{}, fmt.Errorf("codec: decode request: %w", err)
	}
	var w struct {
		Status     model.FlipStatus `json:"status"`
		Source     string           `json:"source"`
		SealedConn string           `json:"conn"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return FlipRequest{}, fmt.Errorf("codec: unmarshal request: %w", err)
	}
	return FlipRequest{Status: w.Status, SourceGateway: w.Source, SealedConn: w.SealedConn}, nil
}
