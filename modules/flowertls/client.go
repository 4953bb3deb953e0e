// Copyright 2025 The Flower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flowertls

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"

	"github.com/sllt/flower"
	"go.uber.org/zap"
)

func init() {
	flower.RegisterOutbound("tls", func(settings json.RawMessage, _ *flower.Env) (*flower.Outbound, error) {
		var s ClientSettings
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &s); err != nil {
				return nil, flower.Errf(flower.ErrorInvalidInput, "tls outbound settings: %w", err)
			}
		}
		h, err := NewClientHandler(s)
		if err != nil {
			return nil, err
		}
		return &flower.Outbound{Protocol: "tls", TCP: h}, nil
	})
}

// ClientSettings configure the TLS outbound.
type ClientSettings struct {
	// ServerName is sent as SNI. Empty falls back to the session
	// destination host.
	ServerName string `json:"server_name,omitempty"`

	// ALPN is the ordered protocol list, pushed verbatim onto the
	// wire.
	ALPN []string `json:"alpn,omitempty"`

	// Certificate optionally names a PEM file whose certificates
	// supplement the root trust store.
	Certificate string `json:"certificate,omitempty"`

	// VerifyALPN requires the handshake to negotiate one of the ALPN
	// entries. Off by default.
	VerifyALPN bool `json:"verify_alpn,omitempty"`
}

// ClientHandler wraps pre-dialed streams into client-side TLS. It is
// immutable after construction; concurrent Handle calls share the
// config and clone it per connection for the SNI.
type ClientHandler struct {
	serverName string
	verifyALPN bool
	config     *tls.Config
}

// NewClientHandler builds the client config: the root trust store plus
// any configured supplement, no client authentication, the configured
// ALPN list.
func NewClientHandler(s ClientSettings) (*ClientHandler, error) {
	roots, err := RootPool(s.Certificate)
	if err != nil {
		return nil, err
	}
	return &ClientHandler{
		serverName: s.ServerName,
		verifyALPN: s.VerifyALPN,
		config: &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    roots,
			NextProtos: s.ALPN,
		},
	}, nil
}

// ConnectAddr reports that the framework should pre-dial the session
// destination.
func (h *ClientHandler) ConnectAddr() flower.OutboundConnect {
	return flower.ConnectDestination
}

// Handle performs the client handshake over conn. The SNI is the
// configured server name, falling back to the session destination
// host. Handshake failures are reported opaquely.
func (h *ClientHandler) Handle(ctx context.Context, sess *flower.Session, conn net.Conn) (net.Conn, error) {
	if conn == nil {
		return nil, flower.Errf(flower.ErrorInvalidInput, "invalid tls input")
	}
	name := h.serverName
	if name == "" {
		name = sess.Destination.Host()
	}
	if !validServerName(name) {
		return nil, flower.Errf(flower.ErrorInvalidInput, "invalid dnsname")
	}

	cfg := h.config.Clone()
	cfg.ServerName = name
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		flower.Log().Debug("tls handshake failed",
			zap.String("server_name", name),
			zap.Error(err))
		return nil, flower.Errf(flower.ErrorOther, "tls error")
	}
	if h.verifyALPN && len(cfg.NextProtos) > 0 {
		if tlsConn.ConnectionState().NegotiatedProtocol == "" {
			tlsConn.Close()
			return nil, flower.Errf(flower.ErrorProtocol, "no application protocol negotiated")
		}
	}
	return tlsConn, nil
}
