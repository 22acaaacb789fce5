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
	"math/rand/v2"

	"github.com/pion/rtp"
)

type (
	Packet = rtp.Packet
	Header = rtp.Header
)

type Writer interface {
	WriteRTP(p *rtp.Packet) error
}

type Handler interface {
	HandleRTP(p *rtp.Packet) error
}

type HandlerFunc func(p *rtp.Packet) error

func (fnc HandlerFunc) HandleRTP(p *rtp.Packet) error {
	return fnc(p)
}

// NewStream creates an outbound RTP stream with a random SSRC, sequence number and timestamp base.
// Each written payload advances the timestamp by packetDur (in clock rate units).
func NewStream(w Writer, payloadType byte, packetDur uint32) *Stream {
	return &Stream{
		w:         w,
		packetDur: packetDur,
		p: rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    payloadType,
				SSRC:           rand.Uint32(),
				Timestamp:      rand.Uint32(),
				SequenceNumber: uint16(rand.UintN(1 << 16)),
			},
		},
	}
}

type Stream struct {
	w         Writer
	p         Packet
	packetDur uint32
}

func (s *Stream) SSRC() uint32 {
	return s.p.SSRC
}

func (s *Stream) WritePayload(data []byte) error {
	s.p.Payload = data
	if err := s.w.WriteRTP(&s.p); err != nil {
		return err
	}
	s.p.Marker = false
	s.p.Timestamp += s.packetDur
	s.p.SequenceNumber++
	return nil
}
