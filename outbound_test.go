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
	"encoding/json"
	"net"
	"net/netip"
	"testing"
)

// recordingHandler remembers how the framework invoked it.
type recordingHandler struct {
	policy   OutboundConnect
	sawConn  bool
	returned net.Conn
}

func (h *recordingHandler) ConnectAddr() OutboundConnect { return h.policy }

func (h *recordingHandler) Handle(_ context.Context, _ *Session, conn net.Conn) (net.Conn, error) {
	h.sawConn = conn != nil
	if conn != nil {
		return conn, nil
	}
	return h.returned, nil
}

func init() {
	RegisterOutbound("test-passthrough", func(_ json.RawMessage, _ *Env) (*Outbound, error) {
		return &Outbound{Protocol: "test-passthrough", TCP: &recordingHandler{policy: ConnectDestination}}, nil
	})
	RegisterOutbound("test-selfdial", func(_ json.RawMessage, _ *Env) (*Outbound, error) {
		return &Outbound{Protocol: "test-selfdial", TCP: &recordingHandler{policy: NoConnect}}, nil
	})
}

func newTestManager(t *testing.T) *OutboundManager {
	t.Helper()
	m, err := NewOutboundManager([]OutboundConfig{
		{Protocol: "test-passthrough", Tag: "first"},
		{Protocol: "test-selfdial", Tag: "second"},
	}, &Env{Logger: Log()})
	if err != nil {
		t.Fatalf("NewOutboundManager: %v", err)
	}
	return m
}

func TestOutboundManagerSelection(t *testing.T) {
	m := newTestManager(t)

	if ob, ok := m.Get("second"); !ok || ob.Protocol != "test-selfdial" {
		t.Errorf("Get(second) = %+v, %v", ob, ok)
	}
	if _, ok := m.Get("nope"); ok {
		t.Error("unknown tag should not resolve")
	}
	if def := m.Default(); def == nil || def.Tag != "first" {
		t.Errorf("default should be the first table entry, got %+v", def)
	}
}

func TestOutboundManagerRejectsDuplicateTags(t *testing.T) {
	_, err := NewOutboundManager([]OutboundConfig{
		{Protocol: "test-passthrough", Tag: "dup"},
		{Protocol: "test-selfdial", Tag: "dup"},
	}, &Env{})
	if !IsKind(err, ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestOutboundManagerUnknownProtocol(t *testing.T) {
	_, err := NewOutboundManager([]OutboundConfig{{Protocol: "no-such-protocol"}}, &Env{})
	if !IsKind(err, ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestDialOutboundPreDials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := newTestManager(t)
	ob, _ := m.Get("first")
	h := ob.TCP.(*recordingHandler)

	dest := IPAddress(netip.MustParseAddrPort(ln.Addr().String()))
	dns, _ := NewDNSClient(nil, nil)
	conn, err := DialOutbound(context.Background(), ob, NewSession(nil, dest), dns)
	if err != nil {
		t.Fatalf("DialOutbound: %v", err)
	}
	defer conn.Close()
	if !h.sawConn {
		t.Error("framework should pre-dial for ConnectDestination handlers")
	}
}

func TestDialOutboundNoConnect(t *testing.T) {
	m := newTestManager(t)
	ob, _ := m.Get("second")
	h := ob.TCP.(*recordingHandler)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	h.returned = client

	dns, _ := NewDNSClient(nil, nil)
	// destination is deliberately unset: NoConnect handlers must not
	// trigger a framework dial at all
	conn, err := DialOutbound(context.Background(), ob, NewSession(nil, Address{}), dns)
	if err != nil {
		t.Fatalf("DialOutbound: %v", err)
	}
	if h.sawConn {
		t.Error("framework must not pre-dial for NoConnect handlers")
	}
	if conn != client {
		t.Error("handler's own stream should be returned")
	}
}

func TestDialOutboundEmptyDestination(t *testing.T) {
	m := newTestManager(t)
	ob, _ := m.Get("first")
	dns, _ := NewDNSClient(nil, nil)
	_, err := DialOutbound(context.Background(), ob, NewSession(nil, Address{}), dns)
	if !IsKind(err, ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestDialOutboundUnresolvable(t *testing.T) {
	m := newTestManager(t)
	ob, _ := m.Get("first")
	dns, _ := NewDNSClient(nil, nil)
	dns.SetHost("empty.test", nil)

	dest := DomainAddress("empty.test", 80)
	_, err := DialOutbound(context.Background(), ob, NewSession(nil, dest), dns)
	if !IsKind(err, ErrorInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}
