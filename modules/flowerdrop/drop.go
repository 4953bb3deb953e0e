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

// Package flowerdrop is the null outbound: it fails every flow with a
// fixed protocol error, so a routing decision can discard traffic
// without special-casing the dispatch path.
package flowerdrop

import (
	"context"
	"encoding/json"
	"net"

	"github.com/sllt/flower"
)

func init() {
	flower.RegisterOutbound("drop", func(_ json.RawMessage, _ *flower.Env) (*flower.Outbound, error) {
		return &flower.Outbound{Protocol: "drop", TCP: Handler{}, UDP: PacketHandler{}}, nil
	})
}

// Handler discards stream flows. The framework aborts the flow on the
// returned error and does not retry.
type Handler struct{}

// ConnectAddr declares no dial hint.
func (Handler) ConnectAddr() flower.OutboundConnect {
	return flower.ConnectDestination
}

// Handle always fails with the drop sentinel.
func (Handler) Handle(_ context.Context, _ *flower.Session, _ net.Conn) (net.Conn, error) {
	return nil, flower.Errf(flower.ErrorProtocol, "dropped")
}

// PacketHandler is the datagram side of the sentinel.
type PacketHandler struct{}

// ConnectAddr declares no dial hint.
func (PacketHandler) ConnectAddr() flower.OutboundConnect {
	return flower.ConnectDestination
}

// Handle always fails with the drop sentinel.
func (PacketHandler) Handle(_ context.Context, _ *flower.Session, _ net.PacketConn) (net.PacketConn, error) {
	return nil, flower.Errf(flower.ErrorProtocol, "dropped")
}
