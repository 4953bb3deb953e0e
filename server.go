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
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const udpSessionIdle = 60 * time.Second

// Server is the runtime half of the dispatch fabric: it binds the
// configured inbound listeners, runs accepted flows through their
// inbound chain, routes the resulting transports to the configured
// outbound, and relays. One session's failure terminates only that
// session; the accept loops keep running.
type Server struct {
	dns       *DNSClient
	outbounds *OutboundManager
	inbounds  []*Inbound
	logger    *zap.Logger

	addrsMu sync.RWMutex
	addrs   []net.Addr
}

// NewServer builds a server from configuration, constructing every
// handler up front so that bad handler configuration fails at setup
// time, never at request time.
func NewServer(cfg *Config) (*Server, error) {
	var dnsServers []string
	var dnsHosts map[string][]string
	if cfg.DNS != nil {
		dnsServers = cfg.DNS.Servers
		dnsHosts = cfg.DNS.Hosts
	}
	dns, err := NewDNSClient(dnsServers, dnsHosts)
	if err != nil {
		return nil, err
	}

	env := &Env{DNS: dns, Logger: Log()}

	outbounds, err := NewOutboundManager(cfg.Outbounds, env)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		dns:       dns,
		outbounds: outbounds,
		logger:    Log(),
	}
	for _, ic := range cfg.Inbounds {
		factory, ok := inboundFactory(ic.Protocol)
		if !ok {
			return nil, Errf(ErrorInvalidInput, "unknown inbound protocol %q", ic.Protocol)
		}
		in, err := factory(ic.Settings, env)
		if err != nil {
			return nil, Errf(ErrorInvalidInput, "building inbound %q: %w", ic.Protocol, err)
		}
		in.Tag = ic.Tag
		if in.Tag == "" {
			in.Tag = ic.Protocol
		}
		in.Listen = ic.Listen
		in.OutboundTag = ic.Outbound
		if ic.Destination != "" {
			dest, err := ParseAddress(ic.Destination)
			if err != nil {
				return nil, Errf(ErrorInvalidInput, "inbound %q destination: %w", in.Tag, err)
			}
			in.Destination = dest
		}
		srv.inbounds = append(srv.inbounds, in)
	}
	return srv, nil
}

type boundInbound struct {
	in *Inbound
	ln net.Listener
	pc net.PacketConn
}

// Run binds all inbound listeners and serves until ctx is done. A
// failure to bind is fatal and closes whatever was already bound.
// After that, per-session errors never propagate here; a TCP listener
// whose Accept fails while ctx is still live ends Run with that error.
func (s *Server) Run(ctx context.Context) error {
	bound, err := s.bind()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bound {
		b := b
		if b.pc != nil {
			g.Go(func() error {
				defer b.pc.Close()
				return s.servePacket(ctx, b.in, b.pc)
			})
			continue
		}
		g.Go(func() error {
			return s.serveListener(ctx, b.in, b.ln)
		})
	}
	return g.Wait()
}

// ListenAddrs returns the addresses the server is bound to, in inbound
// order. It is empty until Run has bound the listeners.
func (s *Server) ListenAddrs() []net.Addr {
	s.addrsMu.RLock()
	defer s.addrsMu.RUnlock()
	return append([]net.Addr(nil), s.addrs...)
}

func (s *Server) bind() ([]boundInbound, error) {
	var bound []boundInbound
	var addrs []net.Addr
	for _, in := range s.inbounds {
		switch in.Network {
		case "udp":
			pc, err := net.ListenPacket("udp", in.Listen)
			if err != nil {
				closeBound(bound)
				return nil, Err(ErrorIO, err)
			}
			bound = append(bound, boundInbound{in: in, pc: pc})
			addrs = append(addrs, pc.LocalAddr())
			s.logger.Info("inbound listening",
				zap.String("inbound", in.Tag),
				zap.String("network", "udp"),
				zap.Stringer("address", pc.LocalAddr()))
		default:
			ln, err := net.Listen("tcp", in.Listen)
			if err != nil {
				closeBound(bound)
				return nil, Err(ErrorIO, err)
			}
			bound = append(bound, boundInbound{in: in, ln: ln})
			addrs = append(addrs, ln.Addr())
			s.logger.Info("inbound listening",
				zap.String("inbound", in.Tag),
				zap.String("network", "tcp"),
				zap.Stringer("address", ln.Addr()))
		}
	}
	s.addrsMu.Lock()
	s.addrs = addrs
	s.addrsMu.Unlock()
	return bound, nil
}

func closeBound(bound []boundInbound) {
	for _, b := range bound {
		if b.ln != nil {
			b.ln.Close()
		}
		if b.pc != nil {
			b.pc.Close()
		}
	}
}

func (s *Server) serveListener(ctx context.Context, in *Inbound, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return Err(ErrorIO, err)
		}
		go s.handleConn(ctx, in, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, in *Inbound, conn net.Conn) {
	sess := NewSession(conn.RemoteAddr(), in.Destination)
	sess.Inbound = in.Tag

	t, err := in.TCP.Handle(ctx, sess, conn)
	if err != nil {
		s.logger.Debug("inbound handler failed",
			zap.String("inbound", in.Tag),
			zap.String("kind", ErrKind(err).String()),
			zap.Error(err))
		conn.Close()
		return
	}
	s.dispatch(ctx, in, t)
}

func (s *Server) servePacket(ctx context.Context, in *Inbound, pc net.PacketConn) error {
	sess := NewSession(pc.LocalAddr(), in.Destination)
	sess.Inbound = in.Tag

	t, err := in.UDP.Handle(ctx, sess, pc)
	if err != nil {
		s.logger.Debug("inbound handler failed",
			zap.String("inbound", in.Tag),
			zap.String("kind", ErrKind(err).String()),
			zap.Error(err))
		return nil
	}
	s.dispatch(ctx, in, t)
	return nil
}

// dispatch routes one transport to its outbound. Incoming producers
// are drained here, each produced transport dispatched on its own
// goroutine.
func (s *Server) dispatch(ctx context.Context, in *Inbound, t *Transport) {
	switch {
	case t.Incoming != nil:
		defer t.Incoming.Close()
		for {
			next, err := t.Incoming.Accept(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					s.logger.Debug("incoming producer failed", zap.Error(err))
				}
				return
			}
			go s.dispatch(ctx, in, next)
		}

	case t.Stream != nil:
		sess := t.Session
		if sess.Destination.IsEmpty() {
			sess.Destination = in.Destination
		}
		ob := s.route(in)
		if ob == nil {
			s.logger.Warn("no outbound for session", zap.String("inbound", in.Tag))
			t.Stream.Close()
			return
		}
		sess.Outbound = ob.Tag
		s.logger.Debug("dispatching session",
			zap.Stringer("id", sess.ID),
			zap.Stringer("source", sess.Source),
			zap.Stringer("destination", sess.Destination),
			zap.Int64("stream_id", sess.StreamID),
			zap.String("outbound", ob.Tag))

		upstream, err := DialOutbound(ctx, ob, sess, s.dns)
		if err != nil {
			s.logger.Info("dispatch failed",
				zap.Stringer("id", sess.ID),
				zap.String("outbound", ob.Tag),
				zap.String("kind", ErrKind(err).String()),
				zap.Error(err))
			t.Stream.Close()
			return
		}
		RelayTCP(t.Stream, upstream)

	case t.Datagram != nil:
		sess := t.Session
		if sess.Destination.IsEmpty() {
			sess.Destination = in.Destination
		}
		ob := s.route(in)
		if ob == nil || ob.UDP == nil {
			s.logger.Warn("no udp outbound for session", zap.String("inbound", in.Tag))
			t.Datagram.Close()
			return
		}
		sess.Outbound = ob.Tag
		upstream, err := ob.UDP.Handle(ctx, sess, nil)
		if err != nil {
			s.logger.Info("dispatch failed",
				zap.Stringer("id", sess.ID),
				zap.String("outbound", ob.Tag),
				zap.String("kind", ErrKind(err).String()),
				zap.Error(err))
			t.Datagram.Close()
			return
		}
		dest, err := net.ResolveUDPAddr("udp", sess.Destination.String())
		if err != nil {
			t.Datagram.Close()
			upstream.Close()
			return
		}
		RelayUDP(t.Datagram, upstream, dest, udpSessionIdle)
	}
}

// route picks the outbound for a session: the inbound's configured
// tag, else the first entry of the table. The table is supplied from
// outside; there is no rule engine.
func (s *Server) route(in *Inbound) *Outbound {
	if in.OutboundTag != "" {
		if ob, ok := s.outbounds.Get(in.OutboundTag); ok {
			return ob
		}
		return nil
	}
	return s.outbounds.Default()
}
