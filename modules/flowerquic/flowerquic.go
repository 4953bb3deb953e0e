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

// Package flowerquic carries proxied streams over QUIC: the outbound
// side pools connections and multiplexes bidirectional streams onto
// them, the inbound side hosts a QUIC server on a framework-provided
// UDP socket and yields one session per accepted stream.
package flowerquic

import (
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// streamCap bounds bidirectional streams per pooled connection,
	// to limit head-of-line blocking on a single connection.
	streamCap = 128

	// idleTimeout unilaterally tears down inactive connections, on
	// both the client and the server transport.
	idleTimeout = 300 * time.Second

	// defaultALPN is the token offered when no ALPN is configured.
	// QUIC requires one on the wire; negotiation is not otherwise
	// enforced.
	defaultALPN = "flower"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout: idleTimeout,
		// only bidirectional streams are used
		MaxIncomingUniStreams: -1,
		MaxIncomingStreams:    streamCap,
	}
}

func alpnOrDefault(alpn []string) []string {
	if len(alpn) == 0 {
		return []string{defaultALPN}
	}
	return alpn
}

// streamConn adapts one bidirectional QUIC stream to net.Conn.
// CloseWrite closes the send half; the receive half drains naturally
// on the peer's FIN.
type streamConn struct {
	*quic.Stream
	local  net.Addr
	remote net.Addr
}

func (c *streamConn) LocalAddr() net.Addr  { return c.local }
func (c *streamConn) RemoteAddr() net.Addr { return c.remote }

func (c *streamConn) CloseWrite() error {
	return c.Stream.Close()
}

func (c *streamConn) Close() error {
	c.Stream.CancelRead(0)
	return c.Stream.Close()
}
