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
	"sync"
)

// DNSClient resolves names for outbound handlers. A static host table
// takes precedence over the resolver, and IP literals short-circuit
// without a lookup. The client is shared by all concurrent flows;
// handlers only ever take the read side of its lock.
type DNSClient struct {
	mu       sync.RWMutex
	resolver *net.Resolver
	hosts    map[string][]net.IP
}

// NewDNSClient builds a client. servers optionally names upstream DNS
// servers ("host:port"); with none, the system resolver is used. hosts
// maps names to fixed addresses.
func NewDNSClient(servers []string, hosts map[string][]string) (*DNSClient, error) {
	c := &DNSClient{
		resolver: net.DefaultResolver,
		hosts:    make(map[string][]net.IP),
	}
	if len(servers) > 0 {
		server := servers[0]
		c.resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "udp", server)
			},
		}
	}
	for name, addrs := range hosts {
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			ip := net.ParseIP(a)
			if ip == nil {
				return nil, Errf(ErrorInvalidInput, "host entry %q for %q is not an ip", a, name)
			}
			ips = append(ips, ip)
		}
		c.hosts[name] = ips
	}
	return c, nil
}

// Lookup resolves host to its addresses. The result may be empty when
// the name exists without address records; callers decide whether that
// is fatal for their flow.
func (c *DNSClient) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.RLock()
	static, ok := c.hosts[host]
	resolver := c.resolver
	c.mu.RUnlock()
	if ok {
		return static, nil
	}

	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, Errf(ErrorOther, "lookup %s failed: %w", host, err)
	}
	return ips, nil
}

// SetHost installs or replaces a static host entry.
func (c *DNSClient) SetHost(name string, ips []net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[name] = ips
}
