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
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/google/uuid"
)

// Address is a proxied flow's destination: either an IP socket address
// or a domain name paired with a port. Exactly one of the two forms is
// set; the zero Address is empty. Addresses compare with ==, which is
// structural equality of the active form.
type Address struct {
	domain string
	port   uint16
	addr   netip.AddrPort
}

// IPAddress returns the socket-address form.
func IPAddress(ap netip.AddrPort) Address {
	return Address{addr: ap}
}

// DomainAddress returns the host:port form for a name that still needs
// resolving.
func DomainAddress(host string, port uint16) Address {
	return Address{domain: host, port: port}
}

// ParseAddress parses "host:port", producing the socket-address form
// when host is an IP literal and the domain form otherwise.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in %q: %v", s, err)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return IPAddress(netip.AddrPortFrom(ip, uint16(port))), nil
	}
	return DomainAddress(host, uint16(port)), nil
}

// IsIP reports whether the address is a literal socket address.
func (a Address) IsIP() bool { return a.addr.IsValid() }

// IsDomain reports whether the address is a domain name and port.
func (a Address) IsDomain() bool { return a.domain != "" }

// IsEmpty reports whether the address is the zero value.
func (a Address) IsEmpty() bool { return !a.IsIP() && !a.IsDomain() }

// Host returns the domain name, or the IP as a string for the
// socket-address form.
func (a Address) Host() string {
	if a.domain != "" {
		return a.domain
	}
	if a.addr.IsValid() {
		return a.addr.Addr().String()
	}
	return ""
}

// Port returns the port of either form.
func (a Address) Port() uint16 {
	if a.addr.IsValid() {
		return a.addr.Port()
	}
	return a.port
}

func (a Address) String() string {
	if a.addr.IsValid() {
		return a.addr.String()
	}
	return net.JoinHostPort(a.domain, strconv.Itoa(int(a.port)))
}

// Session describes one proxied flow. It is created when a client
// connection is accepted, filled in by the inbound chain, and destroyed
// when the relay completes. A Session is owned exclusively by the task
// handling its flow; handlers receive it by pointer and must not
// mutate it.
type Session struct {
	// ID identifies the session in logs.
	ID uuid.UUID

	// Source is the peer that opened the flow.
	Source net.Addr

	// Destination is where the flow wants to go.
	Destination Address

	// StreamID is the stream's identity within a multiplexed carrier
	// connection, or -1 when the flow is not multiplexed.
	StreamID int64

	// Inbound and Outbound record the tags of the handlers the flow
	// passed through. The core fabric does not read them.
	Inbound  string
	Outbound string
}

// NewSession returns a session for a freshly accepted flow.
func NewSession(source net.Addr, destination Address) *Session {
	return &Session{
		ID:          uuid.New(),
		Source:      source,
		Destination: destination,
		StreamID:    -1,
	}
}
