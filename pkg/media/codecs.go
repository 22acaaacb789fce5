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

package media

import (
	"slices"
	"strings"
)

type CodecInfo struct {
	// SDPName is the rtpmap encoding, e.g. "PCMU/8000".
	SDPName     string
	SampleRate  int
	RTPDefType  byte
	RTPIsStatic bool
	// Priority orders codecs in an SDP offer, higher first.
	Priority int
}

type Codec interface {
	Info() CodecInfo
}

// AudioCodec converts between PCM frames and RTP payloads.
type AudioCodec interface {
	Codec
	EncodeFrame(dst []byte, src PCM16Sample) []byte
	DecodeFrame(dst PCM16Sample, src []byte) PCM16Sample
}

var codecs []Codec

func RegisterCodec(c Codec) {
	codecs = append(codecs, c)
	slices.SortStableFunc(codecs, func(a, b Codec) int {
		return b.Info().Priority - a.Info().Priority
	})
}

// Codecs returns registered codecs ordered by priority.
func Codecs() []Codec {
	return slices.Clone(codecs)
}

// CodecByName finds a codec by its SDP name, case-insensitive.
func CodecByName(name string) Codec {
	for _, c := range codecs {
		if strings.EqualFold(c.Info().SDPName, name) {
			return c
		}
	}
	return nil
}

func NewCodec(info CodecInfo) Codec {
	return &baseCodec{info: info}
}

type baseCodec struct {
	info CodecInfo
}

func (c *baseCodec) Info() CodecInfo {
	return c.info
}
