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
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	// relayBufferSize is the per-direction copy buffer. Each write is
	// flushed before the next read so reading cannot outpace
	// downstream writability.
	relayBufferSize = 16 * 1024

	maxDatagramSize = 64 * 1024
)

type flusher interface {
	Flush() error
}

func copyOneWay(dst io.Writer, src io.Reader) error {
	buf := make([]byte, relayBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if f, ok := dst.(flusher); ok {
				if ferr := f.Flush(); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// RelayTCP copies bytes between a and b in both directions until the
// first direction finishes, with EOF and errors treated alike: the
// relay ends, both streams are shut down gracefully (half-close where
// supported) and then closed. Errors are logged, never returned; every
// relay emits exactly one "tcp session ends" record.
func RelayTCP(a, b net.Conn) {
	errc := make(chan error, 2)
	go func() { errc <- copyOneWay(b, a) }()
	go func() { errc <- copyOneWay(a, b) }()

	if err := <-errc; err != nil {
		Log().Debug("relay error", zap.Error(err))
	}

	shutdown(a)
	shutdown(b)
	a.Close()
	b.Close()

	// the lagging direction unblocks once both streams are closed
	<-errc

	Log().Info("tcp session ends")
}

// shutdown half-closes the stream's send direction when it can;
// failures are swallowed. Streams without half-close rely on the full
// Close that follows.
func shutdown(conn net.Conn) {
	if cw, ok := conn.(CloseWriter); ok {
		_ = cw.CloseWrite()
	}
}

// RelayUDP forwards datagrams request by request: one datagram is read
// from the inbound socket, sent to dest through the outbound channel,
// and the response is routed back to the requester. The relay ends
// when either side stays idle past the idle duration, or on the first
// socket error. Both sockets are closed before returning.
func RelayUDP(inbound, outbound net.PacketConn, dest net.Addr, idle time.Duration) {
	buf := make([]byte, maxDatagramSize)
	for {
		_ = inbound.SetReadDeadline(time.Now().Add(idle))
		n, requester, err := inbound.ReadFrom(buf)
		if err != nil {
			logRelayEnd(err)
			break
		}
		if _, err := outbound.WriteTo(buf[:n], dest); err != nil {
			logRelayEnd(err)
			break
		}
		_ = outbound.SetReadDeadline(time.Now().Add(idle))
		n, _, err = outbound.ReadFrom(buf)
		if err != nil {
			logRelayEnd(err)
			break
		}
		if _, err := inbound.WriteTo(buf[:n], requester); err != nil {
			logRelayEnd(err)
			break
		}
	}
	inbound.Close()
	outbound.Close()
	Log().Info("udp session ends")
}

func logRelayEnd(err error) {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return // idle timeout is the normal way out
	}
	Log().Debug("relay error", zap.Error(err))
}
