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

package flower

import (
	"context"
	"net"
)

// OutboundConnect is an outbound handler's dial policy: whether the
// framework should pre-dial a TCP connection to the session destination
// before invoking the handler.
type OutboundConnect int

const (
	// ConnectDestination has the framework dial the session
	// destination and hand the connected stream to the handler.
	ConnectDestination OutboundConnect = iota

	// NoConnect passes no upstream stream; the handler establishes
	// its own transport.
	NoConnect
)

// CloseWriter is the half-close capability of streams that can shut
// down their send direction independently, like *net.TCPConn and
// *tls.Conn.
type CloseWriter interface {
	CloseWrite() error
}

// TCPInboundHandler accepts a plain or already-wrapped byte stream,
// may layer a protocol on top, and yields either a further-wrapped
// stream with its session or a producer of transports.
type TCPInboundHandler interface {
	Handle(ctx context.Context, sess *Session, conn net.Conn) (*Transport, error)
}

// TCPOutboundHandler carries a stream toward a remote peer. If
// ConnectAddr reports NoConnect the framework passes a nil conn and
// the handler dials itself; otherwise the framework pre-dials the
// session destination and supplies the connected stream.
type TCPOutboundHandler interface {
	ConnectAddr() OutboundConnect
	Handle(ctx context.Context, sess *Session, conn net.Conn) (net.Conn, error)
}

// UDPInboundHandler is the datagram counterpart of TCPInboundHandler.
// The packet socket is pre-bound by the framework.
type UDPInboundHandler interface {
	Handle(ctx context.Context, sess *Session, pc net.PacketConn) (*Transport, error)
}

// UDPOutboundHandler is the datagram counterpart of TCPOutboundHandler.
type UDPOutboundHandler interface {
	ConnectAddr() OutboundConnect
	Handle(ctx context.Context, sess *Session, pc net.PacketConn) (net.PacketConn, error)
}

// Transport is the tagged variant an inbound handler returns: a byte
// stream, a datagram channel, or a producer of further transports.
// Exactly one of Stream, Datagram and Incoming is set; Session
// accompanies the first two.
type Transport struct {
	Stream   net.Conn
	Datagram net.PacketConn
	Incoming Incoming
	Session  *Session
}

// StreamTransport wraps a byte stream and its session.
func StreamTransport(conn net.Conn, sess *Session) *Transport {
	return &Transport{Stream: conn, Session: sess}
}

// DatagramTransport wraps a datagram channel and its session.
func DatagramTransport(pc net.PacketConn, sess *Session) *Transport {
	return &Transport{Datagram: pc, Session: sess}
}

// IncomingTransport wraps a producer of transports, for carriers like
// QUIC where one accepted socket yields many independent sessions.
func IncomingTransport(in Incoming) *Transport {
	return &Transport{Incoming: in}
}

// Incoming is a finite producer of transports.
type Incoming interface {
	// Accept returns the next transport the carrier produced. It
	// returns io.EOF once the producer is exhausted: the underlying
	// carrier has closed and no pending or live connection remains.
	Accept(ctx context.Context) (*Transport, error)

	// Close shuts the carrier down. Pending connections are dropped.
	Close() error
}

// Inbound pairs inbound protocol handlers with the listener metadata
// the runtime server needs. Factories fill Protocol, Network and the
// handler fields; the server copies Tag, Listen and OutboundTag from
// configuration.
type Inbound struct {
	Protocol    string
	Tag         string
	Network     string // "tcp" or "udp"
	Listen      string
	Destination Address
	OutboundTag string
	TCP         TCPInboundHandler
	UDP         UDPInboundHandler
}

// Outbound pairs outbound protocol handlers with their tag.
type Outbound struct {
	Protocol string
	Tag      string
	TCP      TCPOutboundHandler
	UDP      UDPOutboundHandler
}
