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

// Package dtmf decodes key presses from RFC 4733 telephone events and from in-band audio tones.
package dtmf

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/rtp"
)

const (
	SDPName        = "telephone-event/8000"
	DefPayloadType = 101
)

func init() {
	media.RegisterCodec(media.NewCodec(media.CodecInfo{
		SDPName:    SDPName,
		SampleRate: 8000,
		RTPDefType: DefPayloadType,
		// listed after audio codecs in an offer
		Priority: -100,
	}))
}

var ErrInvalidDigit = errors.New("invalid dtmf digit")

var eventToChar = [256]byte{
	0: '0', 1: '1', 2: '2', 3: '3', 4: '4',
	5: '5', 6: '6', 7: '7', 8: '8', 9: '9',
	10: '*', 11: '#',
	12: 'a', 13: 'b', 14: 'c', 15: 'd',
}

func charToEvent(c byte) (byte, bool) {
	for code, v := range eventToChar {
		if v != 0 && v == c {
			return byte(code), true
		}
	}
	return 0, false
}

type Event struct {
	Code   byte
	Digit  byte   // zero for events that are not keypad digits
	Volume byte   // in dBm0 (without sign)
	Dur    uint16 // in timestamp units
	End    bool
}

func Decode(data []byte) (Event, error) {
	if len(data) < 4 {
		return Event{}, io.ErrUnexpectedEOF
	}
	return Event{
		Code:   data[0],
		Digit:  eventToChar[data[0]],
		End:    data[1]&0x80 != 0,
		Volume: data[1] & 0x3F,
		Dur:    binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

func Encode(out []byte, ev Event) (int, error) {
	if len(out) < 4 {
		return 0, io.ErrShortBuffer
	}
	if ev.Digit != 0 {
		code, ok := charToEvent(ev.Digit)
		if !ok {
			return 0, ErrInvalidDigit
		}
		ev.Code = code
	}
	out[0] = ev.Code
	out[1] = ev.Volume & 0x3F
	if ev.End {
		out[1] |= 0x80
	}
	binary.BigEndian.PutUint16(out[2:4], ev.Dur)
	return 4, nil
}

// Deduper reports each telephone event once.
//
// A single key press is sent as several packets sharing one RTP timestamp,
// and the final packet is repeated, so the timestamp identifies the event.
type Deduper struct {
	mu     sync.Mutex
	seen   bool
	lastTS uint32
}

// Accept decodes p and reports whether it starts a new keypad event.
func (d *Deduper) Accept(p *rtp.Packet) (Event, bool) {
	ev, err := Decode(p.Payload)
	if err != nil || ev.Digit == 0 {
		return Event{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen && d.lastTS == p.Timestamp {
		return Event{}, false
	}
	d.seen = true
	d.lastTS = p.Timestamp
	return ev, true
}

// NewHandler returns an RTP handler calling onDigit once per telephone event.
func NewHandler(onDigit func(ev Event)) rtp.Handler {
	var d Deduper
	return rtp.HandlerFunc(func(p *rtp.Packet) error {
		if ev, ok := d.Accept(p); ok {
			onDigit(ev)
		}
		return nil
	})
}
