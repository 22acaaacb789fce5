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

package dtmf

import (
	"encoding/hex"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/media/g711"
	"github.com/livekit/sip-pager/pkg/media/rtp"
	"github.com/livekit/sip-pager/pkg/media/tones"
)

func TestDTMF(t *testing.T) {
	cases := []struct {
		name string
		data string
		exp  Event
	}{
		{
			name: "star end",
			data: `0a8a0820`,
			exp: Event{
				Code:   10,
				Digit:  '*',
				Volume: 10,
				End:    true,
				Dur:    2080,
			},
		},
		{
			name: "four",
			data: `040a0140`,
			exp: Event{
				Code:   4,
				Digit:  '4',
				Volume: 10,
				End:    false,
				Dur:    320,
			},
		},
		{
			name: "flash",
			data: `100a00a0`,
			exp: Event{
				Code:   16,
				Volume: 10,
				Dur:    160,
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := hex.DecodeString(c.data)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, c.exp, got)

			var buf [4]byte
			n, err := Encode(buf[:], got)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.Equal(t, c.data, hex.EncodeToString(buf[:n]))
		})
	}
}

func TestDTMFErrors(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.Error(t, err)

	var buf [4]byte
	_, err = Encode(buf[:2], Event{Digit: '1'})
	require.Error(t, err)
	_, err = Encode(buf[:], Event{Digit: 'x'})
	require.ErrorIs(t, err, ErrInvalidDigit)
}

// eventPackets builds the packets a phone sends for a single key press.
func eventPackets(t *testing.T, digit byte, ts uint32, seq uint16) []*rtp.Packet {
	var out []*rtp.Packet
	add := func(dur uint16, end, marker bool) {
		buf := make([]byte, 4)
		_, err := Encode(buf, Event{Digit: digit, Volume: 10, Dur: dur, End: end})
		require.NoError(t, err)
		p := &rtp.Packet{Payload: buf}
		p.PayloadType = DefPayloadType
		p.Timestamp = ts
		p.SequenceNumber = seq
		p.Marker = marker
		seq++
		out = append(out, p)
	}
	add(160, false, true)
	add(320, false, false)
	add(480, false, false)
	for range 3 {
		add(640, true, false)
	}
	return out
}

func TestDeduper(t *testing.T) {
	var got []byte
	h := NewHandler(func(ev Event) {
		got = append(got, ev.Digit)
	})
	var pkts []*rtp.Packet
	pkts = append(pkts, eventPackets(t, '1', 1000, 1)...)
	pkts = append(pkts, eventPackets(t, '1', 2000, 7)...)
	pkts = append(pkts, eventPackets(t, '#', 3000, 13)...)
	// retransmitted end of the last event
	pkts = append(pkts, eventPackets(t, '#', 3000, 19)[5])
	for _, p := range pkts {
		require.NoError(t, h.HandleRTP(p))
	}
	require.Equal(t, "11#", string(got))

	var d Deduper
	_, ok := d.Accept(&rtp.Packet{Payload: []byte{1}})
	require.False(t, ok)
}

// phoneAudio synthesizes key presses separated by silence and passes them through PCMU.
func phoneAudio(digits string, toneDur, gap time.Duration) media.PCM16Sample {
	var pcm media.PCM16Sample
	silence := make(media.PCM16Sample, int(DetectSampleRate*gap/time.Second))
	pcm = append(pcm, silence...)
	for i := 0; i < len(digits); i++ {
		pcm = append(pcm, tones.DTMFTone(digits[i], DetectSampleRate, toneDur, 8000)...)
		pcm = append(pcm, silence...)
	}
	enc := g711.ULaw.EncodeFrame(nil, pcm)
	return g711.ULaw.DecodeFrame(nil, enc)
}

func detectAll(t *testing.T, pcm media.PCM16Sample) string {
	var got []byte
	d := NewDetector(func(digit byte) {
		got = append(got, digit)
	})
	for _, frame := range media.SplitFrames(pcm, DetectSampleRate) {
		require.NoError(t, d.WriteSample(frame))
	}
	return string(got)
}

func TestDetectorDigits(t *testing.T) {
	const digits = "0123456789*#abcd"
	for i := 0; i < len(digits); i++ {
		digit := digits[i]
		t.Run(string(digit), func(t *testing.T) {
			pcm := phoneAudio(string(digit), 100*time.Millisecond, 100*time.Millisecond)
			require.Equal(t, string(digit), detectAll(t, pcm))
		})
	}
}

func TestDetectorSequence(t *testing.T) {
	pcm := phoneAudio("1223#", 120*time.Millisecond, 120*time.Millisecond)
	require.Equal(t, "1223#", detectAll(t, pcm))
}

func TestDetectorLongPress(t *testing.T) {
	pcm := phoneAudio("5", 2*time.Second, 100*time.Millisecond)
	require.Equal(t, "5", detectAll(t, pcm))
}

func TestDetectorNoTone(t *testing.T) {
	require.Empty(t, detectAll(t, make(media.PCM16Sample, 8000)))

	// a single tone is not a key press
	pcm := make(media.PCM16Sample, 8000)
	tones.Generate(pcm, DetectSampleRate, 0, 8000, 697)
	require.Empty(t, detectAll(t, pcm))

	// neither is broadband noise
	var seed uint32 = 1
	for i := range pcm {
		seed = seed*1664525 + 1013904223
		pcm[i] = int16(seed >> 16)
	}
	require.Empty(t, detectAll(t, pcm))
}

func TestDetectQuiet(t *testing.T) {
	win := make([]float64, detectWindow)
	for i := range win {
		win[i] = 1
	}
	tone := tones.DTMFTone('7', DetectSampleRate, 40*time.Millisecond, 10)
	x := make([]float64, len(tone))
	for i, v := range tone {
		x[i] = float64(v) / math.MaxInt16
	}
	require.Zero(t, Detect(x, win))
}

// vowel synthesizes a voiced vowel: harmonics of f0 shaped by two formants, passed through PCMU.
func vowel(f0, f1, f2 float64, dur time.Duration) media.PCM16Sample {
	const bw = 100.0
	formant := func(f, center float64) float64 {
		d := (f - center) / bw
		return 1 / (1 + d*d)
	}
	pcm := make([]float64, int(DetectSampleRate*dur/time.Second))
	var peak float64
	for i := range pcm {
		t := float64(i) / DetectSampleRate
		var v float64
		for h := f0; h < DetectSampleRate/2-200; h += f0 {
			v += (formant(h, f1) + formant(h, f2)) * math.Sin(2*math.Pi*h*t)
		}
		pcm[i] = v
		peak = max(peak, math.Abs(v))
	}
	out := make(media.PCM16Sample, len(pcm))
	for i, v := range pcm {
		out[i] = int16(v / peak * 8000)
	}
	return g711.ULaw.DecodeFrame(nil, g711.ULaw.EncodeFrame(nil, out))
}

func TestDetectorIgnoresSpeech(t *testing.T) {
	for _, c := range []struct {
		f0, f1, f2 float64
	}{
		{100, 700, 1200},
		{110, 770, 1320},
		{120, 850, 1480},
		{95, 940, 1630},
		{140, 700, 1210},
		{200, 700, 1200},
	} {
		t.Run(fmt.Sprintf("f0=%v F1=%v F2=%v", c.f0, c.f1, c.f2), func(t *testing.T) {
			require.Empty(t, detectAll(t, vowel(c.f0, c.f1, c.f2, 500*time.Millisecond)))
		})
	}
}

func TestDetectorNeedsTwoWindows(t *testing.T) {
	// A single window of tone is too short for a key press.
	pcm := make(media.PCM16Sample, 3*detectWindow)
	copy(pcm[detectWindow:], tones.DTMFTone('8', DetectSampleRate, 40*time.Millisecond, 8000))
	require.Empty(t, detectAll(t, pcm))

	copy(pcm[detectWindow:], tones.DTMFTone('8', DetectSampleRate, 80*time.Millisecond, 8000))
	require.Equal(t, "8", detectAll(t, pcm))
}
