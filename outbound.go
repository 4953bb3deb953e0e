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
	"net/netip"
)

// OutboundManager holds the ordered outbound table. Routing decisions
// arrive from outside as tags; the manager only selects.
type OutboundManager struct {
	handlers map[string]*Outbound
	order    []string
}

// NewOutboundManager builds the table from configuration, constructing
// each handler through the registry. Table order follows config order;
// the first entry is the default.
func NewOutboundManager(cfgs []OutboundConfig, env *Env) (*OutboundManager, error) {
	m := &OutboundManager{handlers: make(map[string]*Outbound)}
	for _, cfg := range cfgs {
		factory, ok := outboundFactory(cfg.Protocol)
		if !ok {
			return nil, Errf(ErrorInvalidInput, "unknown outbound protocol %q", cfg.Protocol)
		}
		ob, err := factory(cfg.Settings, env)
		if err != nil {
			return nil, Errf(ErrorInvalidInput, "building outbound %q: %w", cfg.Protocol, err)
		}
		tag := cfg.Tag
		if tag == "" {
			tag = cfg.Protocol
		}
		if _, exists := m.handlers[tag]; exists {
			return nil, Errf(ErrorInvalidInput, "duplicate outbound tag %q", tag)
		}
		ob.Tag = tag
		m.handlers[tag] = ob
		m.order = append(m.order, tag)
	}
	return m, nil
}

// Get selects an outbound by tag.
func (m *OutboundManager) Get(tag string) (*Outbound, bool) {
	ob, ok := m.handlers[tag]
	return ob, ok
}

// Default returns the first outbound in table order, or nil when the
// table is empty.
func (m *OutboundManager) Default() *Outbound {
	if len(m.order) == 0 {
		return nil
	}
	return m.handlers[m.order[0]]
}

// DialOutbound prepares the upstream stream according to the handler's
// dial policy and invokes the handler. With NoConnect the handler is
// called with a nil stream and dials itself; otherwise the session
// destination is dialed first, resolving domain destinations through
// dns.
func DialOutbound(ctx context.Context, ob *Outbound, sess *Session, dns *DNSClient) (net.Conn, error) {
	if ob.TCP == nil {
		return nil, Errf(ErrorInvalidInput, "outbound %q has no tcp handler", ob.Tag)
	}
	if ob.TCP.ConnectAddr() == NoConnect {
		return ob.TCP.Handle(ctx, sess, nil)
	}

	conn, err := dialDestination(ctx, dns, sess.Destination)
	if err != nil {
		return nil, err
	}
	upstream, err := ob.TCP.Handle(ctx, sess, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return upstream, nil
}

func dialDestination(ctx context.Context, dns *DNSClient, dest Address) (net.Conn, error) {
	if dest.IsEmpty() {
		return nil, Errf(ErrorInvalidInput, "session has no destination")
	}

	var d net.Dialer
	if dest.IsIP() {
		conn, err := d.DialContext(ctx, "tcp", dest.String())
		if err != nil {
			return nil, Err(ErrorIO, err)
		}
		return conn, nil
	}

	ips, err := dns.Lookup(ctx, dest.Host())
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, Errf(ErrorInvalidInput, "could not resolve to any address")
	}
	ip, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return nil, Errf(ErrorInvalidInput, "resolver produced an unusable address for %s", dest.Host())
	}
	addr := netip.AddrPortFrom(ip.Unmap(), dest.Port())
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, Err(ErrorIO, err)
	}
	return conn, nil
}
