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
	"net/netip"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input    string
		wantIP   bool
		wantHost string
		wantPort uint16
		wantErr  bool
	}{
		{input: "127.0.0.1:3000", wantIP: true, wantHost: "127.0.0.1", wantPort: 3000},
		{input: "[::1]:443", wantIP: true, wantHost: "::1", wantPort: 443},
		{input: "example.com:443", wantIP: false, wantHost: "example.com", wantPort: 443},
		{input: "localhost:0", wantIP: false, wantHost: "localhost", wantPort: 0},
		{input: "example.com", wantErr: true},
		{input: "example.com:notaport", wantErr: true},
		{input: "example.com:70000", wantErr: true},
	}
	for _, tc := range tests {
		addr, err := ParseAddress(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q): expected error, got %v", tc.input, addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q): %v", tc.input, err)
			continue
		}
		if addr.IsIP() != tc.wantIP {
			t.Errorf("ParseAddress(%q): IsIP = %v, want %v", tc.input, addr.IsIP(), tc.wantIP)
		}
		if addr.Host() != tc.wantHost {
			t.Errorf("ParseAddress(%q): Host = %q, want %q", tc.input, addr.Host(), tc.wantHost)
		}
		if addr.Port() != tc.wantPort {
			t.Errorf("ParseAddress(%q): Port = %d, want %d", tc.input, addr.Port(), tc.wantPort)
		}
	}
}

func TestAddressEquality(t *testing.T) {
	ip1 := IPAddress(netip.MustParseAddrPort("127.0.0.1:3000"))
	ip2 := IPAddress(netip.MustParseAddrPort("127.0.0.1:3000"))
	ip3 := IPAddress(netip.MustParseAddrPort("127.0.0.1:3001"))
	if ip1 != ip2 {
		t.Error("identical socket addresses should be equal")
	}
	if ip1 == ip3 {
		t.Error("different ports should not be equal")
	}

	d1 := DomainAddress("example.com", 443)
	d2 := DomainAddress("example.com", 443)
	d3 := DomainAddress("example.org", 443)
	if d1 != d2 {
		t.Error("identical domain addresses should be equal")
	}
	if d1 == d3 {
		t.Error("different hosts should not be equal")
	}

	// the two variants never compare equal, even for matching text
	ip := IPAddress(netip.MustParseAddrPort("10.0.0.1:80"))
	dom := DomainAddress("10.0.0.1", 80)
	if ip == dom {
		t.Error("socket and domain variants should not be equal")
	}
}

func TestAddressForms(t *testing.T) {
	var empty Address
	if !empty.IsEmpty() || empty.IsIP() || empty.IsDomain() {
		t.Error("zero address should be empty and neither form")
	}
	if empty.Host() != "" || empty.Port() != 0 {
		t.Error("zero address should have no host or port")
	}

	dom := DomainAddress("example.com", 8443)
	if dom.String() != "example.com:8443" {
		t.Errorf("String = %q", dom.String())
	}
	ip := IPAddress(netip.MustParseAddrPort("192.0.2.1:80"))
	if ip.String() != "192.0.2.1:80" {
		t.Errorf("String = %q", ip.String())
	}
}

func TestNewSession(t *testing.T) {
	dest := DomainAddress("example.com", 443)
	sess := NewSession(nil, dest)
	if sess.StreamID != -1 {
		t.Errorf("fresh session StreamID = %d, want -1", sess.StreamID)
	}
	if sess.Destination != dest {
		t.Errorf("Destination = %v, want %v", sess.Destination, dest)
	}
	other := NewSession(nil, dest)
	if sess.ID == other.ID {
		t.Error("sessions should have distinct ids")
	}
}
