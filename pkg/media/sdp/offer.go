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

// Package sdp builds SDP offers for outbound calls and applies the remote answer.
package sdp

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/dtmf"
	_ "github.com/livekit/sip-pager/pkg/media/g711"
)

const (
	sessionName   = "sip-pager"
	firstDynamic  = 96
	dtmfEventsAll = "0-16"
)

var (
	ErrNoAudio       = errors.New("no audio in sdp")
	ErrNoCommonCodec = errors.New("common audio codec not found")
)

type CodecInfo struct {
	Type  byte
	Codec media.Codec
}

type MediaDesc struct {
	Codecs   []CodecInfo
	DTMFType byte // zero if there's no DTMF
}

// OfferCodecs lists registered codecs in preference order with the payload types we offer them on.
func OfferCodecs() []CodecInfo {
	var (
		out  []CodecInfo
		used = make(map[byte]bool)
		next = byte(firstDynamic)
	)
	for _, c := range media.Codecs() {
		info := c.Info()
		typ := info.RTPDefType
		if !info.RTPIsStatic && (typ < firstDynamic || used[typ]) {
			for used[next] {
				next++
			}
			typ = next
		}
		used[typ] = true
		out = append(out, CodecInfo{Type: typ, Codec: c})
	}
	return out
}

type Description struct {
	SDP  sdp.SessionDescription
	Addr netip.AddrPort
	MediaDesc
}

type Offer Description

type Answer Description

// NewOffer creates an audio offer advertising the local RTP address.
func NewOffer(ip netip.Addr, rtpPort int) *Offer {
	codecs := OfferCodecs()
	formats := make([]string, 0, len(codecs))
	attrs := make([]sdp.Attribute, 0, len(codecs)+3)
	var dtmfType byte
	for _, c := range codecs {
		styp := strconv.Itoa(int(c.Type))
		formats = append(formats, styp)
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: styp + " " + c.Codec.Info().SDPName})
		if c.Codec.Info().SDPName == dtmf.SDPName {
			dtmfType = c.Type
		}
	}
	if dtmfType != 0 {
		attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", dtmfType, dtmfEventsAll)})
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: strconv.Itoa(int(media.DefFrameDur.Milliseconds()))},
		sdp.Attribute{Key: "sendrecv"},
	)

	addrType := "IP4"
	if ip.Is6() && !ip.Is4In6() {
		addrType = "IP6"
	}
	id := rand.Uint64N(1 << 62)
	s := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      id,
			SessionVersion: id,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: ip.String(),
		},
		SessionName: sessionName,
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: ip.String()},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: rtpPort},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attrs,
		}},
	}
	return &Offer{
		SDP:  s,
		Addr: netip.AddrPortFrom(ip, uint16(rtpPort)),
		MediaDesc: MediaDesc{
			Codecs:   codecs,
			DTMFType: dtmfType,
		},
	}
}

func (o *Offer) Marshal() ([]byte, error) {
	return o.SDP.Marshal()
}

// Parse reads a session description and its first audio stream.
func Parse(data []byte) (*Description, error) {
	d := new(Description)
	if err := d.SDP.Unmarshal(data); err != nil {
		return nil, err
	}
	audio := getAudio(&d.SDP)
	if audio == nil {
		return nil, ErrNoAudio
	}
	addr, err := getAudioDest(&d.SDP, audio)
	if err != nil {
		return nil, err
	}
	if !addr.IsValid() || addr.Port() == 0 {
		return nil, fmt.Errorf("invalid audio address %q", addr)
	}
	d.Addr = addr
	d.MediaDesc = parseMedia(audio)
	return d, nil
}

func ParseAnswer(data []byte) (*Answer, error) {
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return (*Answer)(d), nil
}

// Apply selects the audio codec for the call from the codecs both sides support.
func (a *Answer) Apply(offer *Offer) (*MediaConfig, error) {
	offered := make(map[media.Codec]bool, len(offer.Codecs))
	for _, c := range offer.Codecs {
		offered[c.Codec] = true
	}
	var common MediaDesc
	for _, c := range a.Codecs {
		if c.Codec != nil && offered[c.Codec] {
			common.Codecs = append(common.Codecs, c)
		}
	}
	if offer.DTMFType != 0 {
		common.DTMFType = a.DTMFType
	}
	audio, err := SelectAudio(common)
	if err != nil {
		return nil, err
	}
	return &MediaConfig{
		Local:  offer.Addr,
		Remote: a.Addr,
		Audio:  *audio,
	}, nil
}

type MediaConfig struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
	Audio  AudioConfig
}

type AudioConfig struct {
	Codec    media.AudioCodec
	Type     byte
	DTMFType byte
}

// SelectAudio picks the audio codec with the highest priority.
func SelectAudio(desc MediaDesc) (*AudioConfig, error) {
	var best *AudioConfig
	for _, c := range desc.Codecs {
		codec, ok := c.Codec.(media.AudioCodec)
		if !ok {
			continue
		}
		if best == nil || codec.Info().Priority > best.Codec.Info().Priority {
			best = &AudioConfig{Codec: codec, Type: c.Type}
		}
	}
	if best == nil {
		return nil, ErrNoCommonCodec
	}
	best.DTMFType = desc.DTMFType
	return best, nil
}

func getAudio(s *sdp.SessionDescription) *sdp.MediaDescription {
	for _, m := range s.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return m
		}
	}
	return nil
}

// getAudioDest uses the media-level connection address, then the session-level one, then the origin.
func getAudioDest(s *sdp.SessionDescription, audio *sdp.MediaDescription) (netip.AddrPort, error) {
	ci := audio.ConnectionInformation
	if ci == nil {
		ci = s.ConnectionInformation
	}
	var addr string
	switch {
	case ci != nil && ci.NetworkType == "IN" && ci.Address != nil:
		addr = ci.Address.Address
	case s.Origin.NetworkType == "IN":
		addr = s.Origin.UnicastAddress
	}
	if addr == "" {
		return netip.AddrPort{}, errors.New("no destination address in sdp")
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid destination address %q: %w", addr, err)
	}
	return netip.AddrPortFrom(ip, uint16(audio.MediaName.Port.Value)), nil
}

func parseMedia(d *sdp.MediaDescription) MediaDesc {
	rtpmap := make(map[byte]string)
	for _, a := range d.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		typ, name, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(typ)
		if err != nil || n < 0 || n > 127 {
			continue
		}
		rtpmap[byte(n)] = strings.TrimSpace(name)
	}
	var out MediaDesc
	for _, f := range d.MediaName.Formats {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 127 {
			continue
		}
		typ := byte(n)
		name, ok := rtpmap[typ]
		if ok && (strings.EqualFold(name, dtmf.SDPName) || strings.EqualFold(name, dtmf.SDPName+"/1")) {
			out.DTMFType = typ
			continue
		}
		var codec media.Codec
		if ok {
			codec = media.CodecByName(strings.TrimSuffix(name, "/1"))
		} else {
			codec = staticCodec(typ)
		}
		out.Codecs = append(out.Codecs, CodecInfo{Type: typ, Codec: codec})
	}
	return out
}

func staticCodec(typ byte) media.Codec {
	for _, c := range media.Codecs() {
		if info := c.Info(); info.RTPIsStatic && info.RTPDefType == typ {
			return c
		}
	}
	return nil
}
