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
)

func init() {
	flower.RegisterInbound("tls", func(settings json.RawMessage, _ *flower.Env) (*flower.Inbound, error) {
		var s ServerSettings
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &s); err != nil {
				return nil, flower.Errf(flower.ErrorInvalidInput, "tls inbound settings: %w", err)
			}
		}
		h, err := NewServerHandler(s.Certificate, s.CertificateKey)
		if err != nil {
			return nil, err
		}
		return &flower.Inbound{Protocol: "tls", Network: "tcp", TCP: h}, nil
	})
}

// ServerSettings configure the TLS inbound.
type ServerSettings struct {
	Certificate    string `json:"certificate"`
	CertificateKey string `json:"certificate_key"`
}

// ServerHandler terminates TLS on accepted streams. It is immutable
// after construction; concurrent Handle calls share the config.
type ServerHandler struct {
	config *tls.Config
}

// NewServerHandler loads the certificate chain and key and builds the
// server config: library-default cipher suites and key exchange
// groups, TLS 1.2 and up, no client authentication, the single loaded
// certificate. Bad material fails here, at setup time.
func NewServerHandler(certFile, keyFile string) (*ServerHandler, error) {
	cert, err := LoadKeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &ServerHandler{
		config: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		},
	}, nil
}

// Handle performs the server-side handshake on conn and yields the
// wrapped stream. A handshake failure fails the whole session.
func (h *ServerHandler) Handle(ctx context.Context, sess *flower.Session, conn net.Conn) (*flower.Transport, error) {
	tlsConn := tls.Server(conn, h.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, flower.Err(flower.ErrorProtocol, err)
	}
	return flower.StreamTransport(tlsConn, sess), nil
}
