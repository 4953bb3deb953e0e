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

package flowerquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/sllt/flower"
	"github.com/sllt/flower/modules/flowertls"
)

func init() {
	flower.RegisterOutbound("quic", func(settings json.RawMessage, env *flower.Env) (*flower.Outbound, error) {
		var s OutboundSettings
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &s); err != nil {
				return nil, flower.Errf(flower.ErrorInvalidInput, "quic outbound settings: %w", err)
			}
		}
		h, err := NewHandler(s, env.DNS)
		if err != nil {
			return nil, err
		}
		return &flower.Outbound{Protocol: "quic", TCP: h}, nil
	})
}

// OutboundSettings configure the QUIC outbound.
type OutboundSettings struct {
	Address    string   `json:"address"`
	Port       uint16   `json:"port"`
	ServerName string   `json:"server_name,omitempty"`
	ALPN       []string `json:"alpn,omitempty"`

	// Certificate optionally names a PEM file whose certificates
	// supplement the root trust store.
	Certificate string `json:"certificate,omitempty"`
}

// connSlot is one pooled connection plus its accounting. A retired
// slot is removed on the next pool sweep and never reused.
type connSlot struct {
	conn          *quic.Conn
	sock          net.PacketConn
	totalAccepted int
	retired       bool
}

func (c *connSlot) close() {
	_ = c.conn.CloseWithError(0, "retired")
	_ = c.sock.Close()
}

// Manager pools outbound QUIC connections to one remote endpoint and
// hands out bidirectional streams, capping streams per connection at
// streamCap. The pool is shared by all concurrent NewStream callers
// under one mutex.
type Manager struct {
	address    string
	port       uint16
	serverName string
	dns        *flower.DNSClient
	tlsConfig  *tls.Config

	mu    sync.Mutex
	conns []*connSlot
}

// NewManager builds the pool manager and its client TLS config: the
// root trust store plus any configured supplement, the configured ALPN
// list or the default token.
func NewManager(s OutboundSettings, dns *flower.DNSClient) (*Manager, error) {
	if s.Address == "" || s.Port == 0 {
		return nil, flower.Errf(flower.ErrorInvalidInput, "quic outbound needs address and port")
	}
	roots, err := flowertls.RootPool(s.Certificate)
	if err != nil {
		return nil, err
	}
	return &Manager{
		address:    s.Address,
		port:       s.Port,
		serverName: s.ServerName,
		dns:        dns,
		tlsConfig: &tls.Config{
			RootCAs:    roots,
			NextProtos: alpnOrDefault(s.ALPN),
		},
	}, nil
}

// NewStream returns a bidirectional stream to the remote endpoint. It
// sweeps retired slots, then tries to reuse a pooled connection with
// capacity, and only dials a fresh connection when no slot yields a
// stream. The mutex is held across the stream open so totalAccepted
// stays accurate; the dial and handshake run without it so other
// flows are not blocked.
func (m *Manager) NewStream(ctx context.Context) (net.Conn, error) {
	m.sweep()

	if conn := m.reuseStream(ctx); conn != nil {
		return conn, nil
	}

	ips, err := m.dns.Lookup(ctx, m.address)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, flower.Errf(flower.ErrorInvalidInput, "could not resolve to any address")
	}
	raddr := &net.UDPAddr{IP: ips[0], Port: int(m.port)}

	sock, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, flower.Err(flower.ErrorIO, err)
	}
	tr := &quic.Transport{Conn: sock}

	sni := m.serverName
	if sni == "" {
		sni = m.address
	}
	tlsConf := m.tlsConfig.Clone()
	tlsConf.ServerName = sni

	conn, err := tr.Dial(ctx, raddr, tlsConf, quicConfig())
	if err != nil {
		sock.Close()
		return nil, flower.Errf(flower.ErrorOther, "quic connect %s: %w", raddr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		sock.Close()
		return nil, flower.Errf(flower.ErrorOther, "open quic stream: %w", err)
	}

	m.mu.Lock()
	m.conns = append(m.conns, &connSlot{
		conn:          conn,
		sock:          sock,
		totalAccepted: 1,
	})
	m.mu.Unlock()

	return &streamConn{Stream: stream, local: conn.LocalAddr(), remote: conn.RemoteAddr()}, nil
}

// sweep removes retired slots and releases their sockets.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.conns[:0]
	for _, c := range m.conns {
		if c.retired {
			c.close()
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(m.conns); i++ {
		m.conns[i] = nil
	}
	m.conns = kept
}

// reuseStream walks the pool for a slot with capacity. A failed open
// retires the slot; a saturated slot is retired without an attempt.
func (m *Manager) reuseStream(ctx context.Context) net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.totalAccepted >= streamCap {
			c.retired = true
			continue
		}
		stream, err := c.conn.OpenStreamSync(ctx)
		if err != nil {
			c.retired = true
			flower.Log().Debug("open quic stream failed", zap.Error(err))
			continue
		}
		c.totalAccepted++
		flower.Log().Debug("reusing quic connection",
			zap.Stringer("remote", c.conn.RemoteAddr()),
			zap.Int("total_accepted", c.totalAccepted))
		return &streamConn{Stream: stream, local: c.conn.LocalAddr(), remote: c.conn.RemoteAddr()}
	}
	return nil
}

// Close tears the pool down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		c.close()
	}
	m.conns = nil
	return nil
}

// Handler dials remote peers over the pooled QUIC connections.
type Handler struct {
	manager *Manager
}

// NewHandler builds the outbound handler and its pool manager.
func NewHandler(s OutboundSettings, dns *flower.DNSClient) (*Handler, error) {
	m, err := NewManager(s, dns)
	if err != nil {
		return nil, err
	}
	return &Handler{manager: m}, nil
}

// ConnectAddr reports that the handler dials itself; the framework
// passes no upstream stream.
func (h *Handler) ConnectAddr() flower.OutboundConnect {
	return flower.NoConnect
}

// Handle returns a fresh bidirectional stream for the session.
func (h *Handler) Handle(ctx context.Context, _ *flower.Session, _ net.Conn) (net.Conn, error) {
	return h.manager.NewStream(ctx)
}
