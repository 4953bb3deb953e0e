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

// Package testecho runs the little echo servers the end-to-end tests
// point their proxies at.
package testecho

import (
	"io"
	"net"
)

// ServeTCP echoes every accepted connection until ln is closed.
func ServeTCP(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			io.Copy(conn, conn)
		}()
	}
}

// ServeUDP echoes every datagram back to its sender until pc is
// closed.
func ServeUDP(pc net.PacketConn) {
	buf := make([]byte, 2*1024)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := pc.WriteTo(buf[:n], addr); err != nil {
			return
		}
	}
}

// StartTCP binds a TCP echo server on addr ("127.0.0.1:0" for an
// ephemeral port) and serves it in the background. The caller closes
// the returned listener to stop it.
func StartTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go ServeTCP(ln)
	return ln, nil
}

// StartUDP is StartTCP for datagrams.
func StartUDP(addr string) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	go ServeUDP(pc)
	return pc, nil
}
