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

// Package flowerdirect is the pass-through outbound: the framework
// dials the session destination and the handler forwards the stream
// unchanged.
package flowerdirect

import (
	"context"
	"encoding/json"
	"net"

	"github.com/sllt/flower"
)

func init() {
	flower.RegisterOutbound("direct", func(_ json.RawMessage, _ *flower.Env) (*flower.Outbound, error) {
		return &flower.Outbound{Protocol: "direct", TCP: Handler{}, UDP: PacketHandler{}}, nil
	})
}

// Handler forwards streams as-is.
type Handler struct{}

// ConnectAddr has the framework dial the session destination.
func (Handler) ConnectAddr() flower.OutboundConnect {
	return flower.ConnectDestination
}

// Handle returns the pre-dialed stream unchanged.
func (Handler) Handle(_ context.Context, _ *flower.Session, conn net.Conn) (net.Conn, error) {
	if conn == nil {
		return nil, flower.Errf(flower.ErrorInvalidInput, "no upstream stream")
	}
	return conn, nil
}

// PacketHandler opens a fresh unconnected socket, bound to an ephemeral
// port, per datagram session.
type PacketHandler struct{}

// ConnectAddr reports that the handler provides its own socket.
func (PacketHandler) ConnectAddr() flower.OutboundConnect {
	return flower.NoConnect
}

// Handle returns an unconnected UDP socket for the session.
func (PacketHandler) Handle(_ context.Context, _ *flower.Session, _ net.PacketConn) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, flower.Err(flower.ErrorIO, err)
	}
	return pc, nil
}
