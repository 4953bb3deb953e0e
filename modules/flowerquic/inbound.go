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
	"io"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sllt/flower"
	"github.com/sllt/flower/modules/flowertls"
)

func init() {
	flower.RegisterInbound("quic", func(settings json.RawMessage, _ *flower.Env) (*flower.Inbound, error) {
		var s InboundSettings
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &s); err != nil {
				return nil, flower.Errf(flower.ErrorInvalidInput, "quic inbound settings: %w", err)
			}
		}
		h, err := NewInboundHandler(s)
		if err != nil {
			return nil, err
		}
		return &flower.Inbound{Protocol: "quic", Network: "udp", UDP: h}, nil
	})
}

// InboundSettings configure the QUIC inbound.
type InboundSettings struct {
	Certificate    string   `json:"certificate"`
	CertificateKey string   `json:"certificate_key"`
	ALPN           []string `json:"alpn,omitempty"`
}

// InboundHandler hosts a QUIC server on a UDP socket the framework has
// already bound, and yields one session per accepted bidirectional
// stream through an Incoming producer.
type InboundHandler struct {
	tlsConfig *tls.Config
}

// NewInboundHandler loads the certificate chain and key and builds the
// server TLS config. Missing or malformed material fails here, at
// setup time.
func NewInboundHandler(s InboundSettings) (*InboundHandler, error) {
	cert, err := flowertls.LoadKeyPair(s.Certificate, s.CertificateKey)
	if err != nil {
		return nil, err
	}
	return &InboundHandler{
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   alpnOrDefault(s.ALPN),
		},
	}, nil
}

// Handle binds a QUIC server to pc and returns its stream producer.
// Clients are made to verify their source address when handshakes
// arrive faster than 1000 per second.
func (h *InboundHandler) Handle(ctx context.Context, _ *flower.Session, pc net.PacketConn) (*flower.Transport, error) {
	limiter := rate.NewLimiter(1000, 1000)
	tr := &quic.Transport{
		Conn:                pc,
		VerifySourceAddress: func(net.Addr) bool { return !limiter.Allow() },
	}
	ln, err := tr.Listen(h.tlsConfig, quicConfig())
	if err != nil {
		return nil, flower.Err(flower.ErrorIO, err)
	}
	flower.Log().Debug("quic listening", zap.Stringer("address", pc.LocalAddr()))
	return flower.IncomingTransport(newIncoming(ln)), nil
}

// incoming accepts QUIC connections and fans their bidirectional
// streams into one queue of per-stream transports. Each live
// connection is drained by its own goroutine, so a ready stream on any
// connection surfaces without scanning the others; the queue is closed
// only when the listener is closed and every connection has been
// retired.
type incoming struct {
	ln     *quic.Listener
	ch     chan *flower.Transport
	ctx    context.Context
	cancel context.CancelFunc
}

func newIncoming(ln *quic.Listener) *incoming {
	ctx, cancel := context.WithCancel(context.Background())
	in := &incoming{
		ln:     ln,
		ch:     make(chan *flower.Transport),
		ctx:    ctx,
		cancel: cancel,
	}
	go in.run()
	return in
}

func (in *incoming) run() {
	var wg sync.WaitGroup
	for {
		conn, err := in.ln.Accept(in.ctx)
		if err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.acceptStreams(conn)
		}()
	}
	wg.Wait()
	close(in.ch)
}

// acceptStreams drains one connection's bidirectional stream queue.
// Any accept error retires the connection: idle timeout, peer close
// and cancellation all end here.
func (in *incoming) acceptStreams(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(in.ctx)
		if err != nil {
			flower.Log().Debug("quic connection retired",
				zap.Stringer("remote", conn.RemoteAddr()),
				zap.Error(err))
			return
		}
		sess := flower.NewSession(conn.RemoteAddr(), flower.Address{})
		sess.StreamID = int64(stream.StreamID())

		wrapped := &streamConn{
			Stream: stream,
			local:  conn.LocalAddr(),
			remote: conn.RemoteAddr(),
		}
		select {
		case in.ch <- flower.StreamTransport(wrapped, sess):
		case <-in.ctx.Done():
			wrapped.Close()
			return
		}
	}
}

// Accept returns the next per-stream transport, or io.EOF once the
// listener has closed and no pending or live connection remains.
func (in *incoming) Accept(ctx context.Context) (*flower.Transport, error) {
	select {
	case t, ok := <-in.ch:
		if !ok {
			return nil, io.EOF
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the listener down and drops pending connections.
func (in *incoming) Close() error {
	in.cancel()
	return in.ln.Close()
}
