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

// Package flower implements a user-space proxy dispatch fabric: inbound
// handlers accept and classify client traffic, outbound handlers carry
// it to remote peers, and the relay engine pipes bytes between the two.
//
// Protocol implementations live in modules under modules/ and register
// themselves with RegisterInbound and RegisterOutbound, usually from an
// init function. The runtime server (see Server) looks handlers up by
// protocol name when it builds the inbound and outbound tables from a
// Config.
package flower

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Env carries the collaborators a handler factory may need. All fields
// are shared; factories must not mutate them.
type Env struct {
	DNS    *DNSClient
	Logger *zap.Logger
}

// InboundFactory constructs an inbound from its raw JSON settings.
type InboundFactory func(settings json.RawMessage, env *Env) (*Inbound, error)

// OutboundFactory constructs an outbound from its raw JSON settings.
type OutboundFactory func(settings json.RawMessage, env *Env) (*Outbound, error)

var (
	registryMu sync.RWMutex
	inbounds   = make(map[string]InboundFactory)
	outbounds  = make(map[string]OutboundFactory)
)

// RegisterInbound registers an inbound handler factory under the given
// protocol name. It panics if the name is empty or already taken, since
// registrations happen in init functions where a collision is a bug in
// the program, not a runtime condition.
func RegisterInbound(protocol string, factory InboundFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if protocol == "" {
		panic("inbound protocol name is required")
	}
	if _, ok := inbounds[protocol]; ok {
		panic(fmt.Sprintf("inbound %q already registered", protocol))
	}
	inbounds[protocol] = factory
}

// RegisterOutbound registers an outbound handler factory under the
// given protocol name. Same rules as RegisterInbound.
func RegisterOutbound(protocol string, factory OutboundFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if protocol == "" {
		panic("outbound protocol name is required")
	}
	if _, ok := outbounds[protocol]; ok {
		panic(fmt.Sprintf("outbound %q already registered", protocol))
	}
	outbounds[protocol] = factory
}

func inboundFactory(protocol string) (InboundFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := inbounds[protocol]
	return f, ok
}

func outboundFactory(protocol string) (OutboundFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := outbounds[protocol]
	return f, ok
}
