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

// Package g711 implements the PCMU and PCMA telephony codecs.
package g711

import (
	"github.com/livekit/sip-pager/pkg/media"
)

const (
	ULawSDPName = "PCMU/8000"
	ALawSDPName = "PCMA/8000"

	ULawPayloadType = 0
	ALawPayloadType = 8
)

var (
	ULaw media.AudioCodec = &lawCodec{
		info: media.CodecInfo{
			SDPName:     ULawSDPName,
			SampleRate:  8000,
			RTPDefType:  ULawPayloadType,
			RTPIsStatic: true,
			Priority:    20,
		},
		encode: linearToULaw,
	}
	ALaw media.AudioCodec = &lawCodec{
		info: media.CodecInfo{
			SDPName:     ALawSDPName,
			SampleRate:  8000,
			RTPDefType:  ALawPayloadType,
			RTPIsStatic: true,
			Priority:    10,
		},
		encode: linearToALaw,
	}
)

func init() {
	for i := range ulawTable {
		ulawTable[i] = ulawToLinear(byte(i))
		alawTable[i] = alawToLinear(byte(i))
	}
	ULaw.(*lawCodec).decode = &ulawTable
	ALaw.(*lawCodec).decode = &alawTable
	media.RegisterCodec(ULaw)
	media.RegisterCodec(ALaw)
}

var ulawTable, alawTable [256]int16

type lawCodec struct {
	info   media.CodecInfo
	encode func(v int16) byte
	decode *[256]int16
}

func (c *lawCodec) Info() media.CodecInfo {
	return c.info
}

func (c *lawCodec) EncodeFrame(dst []byte, src media.PCM16Sample) []byte {
	for _, v := range src {
		dst = append(dst, c.encode(v))
	}
	return dst
}

func (c *lawCodec) DecodeFrame(dst media.PCM16Sample, src []byte) media.PCM16Sample {
	for _, v := range src {
		dst = append(dst, c.decode[v])
	}
	return dst
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

func linearToULaw(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exp := 7
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (v >> (exp + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + ulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

func linearToALaw(s int16) byte {
	v := int(s) >> 3
	mask := 0xD5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	seg := 0
	for end := 0x1F; seg < 8 && v > end; end = end<<1 | 1 {
		seg++
	}
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	a := seg << 4
	if seg < 2 {
		a |= (v >> 1) & 0x0F
	} else {
		a |= (v >> seg) & 0x0F
	}
	return byte(a ^ mask)
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	switch seg := int(a&0x70) >> 4; seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
