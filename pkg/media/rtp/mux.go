// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtp

import (
	"sync"

	"github.com/pion/rtp"
)

// NewMux creates an RTP handler that dispatches packets by payload type.
// Packets with an unregistered type go to def, or are dropped if def is nil.
func NewMux(def Handler) *Mux {
	return &Mux{byType: make(map[byte]Handler), def: def}
}

type Mux struct {
	mu     sync.RWMutex
	byType map[byte]Handler
	def    Handler
}

func (m *Mux) HandleRTP(p *rtp.Packet) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	h, ok := m.byType[p.PayloadType]
	if !ok {
		h = m.def
	}
	m.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h.HandleRTP(p)
}

// Register sets the handler for a payload type. Setting nil removes it.
func (m *Mux) Register(typ byte, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.byType, typ)
		return
	}
	m.byType[typ] = h
}
