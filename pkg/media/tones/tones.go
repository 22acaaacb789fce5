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

package tones

import (
	"math"
	"time"

	"github.com/livekit/sip-pager/pkg/media"
)

type Hz uint32

// Generate fills buf with the sum of sine waves at the given frequencies.
// The offset is the index of the first sample, so consecutive calls produce continuous audio.
func Generate(buf media.PCM16Sample, sampleRate int, offset int, amp int16, freq ...Hz) {
	if len(freq) == 0 {
		buf.Clear()
		return
	}
	for i := range buf {
		t := float64(offset+i) / float64(sampleRate)
		var sum float64
		for _, hz := range freq {
			sum += math.Sin(2 * math.Pi * float64(hz) * t)
		}
		buf[i] = int16(math.Round(float64(amp) * sum / float64(len(freq))))
	}
}

// DTMF keypad frequencies.
var (
	DTMFRows = [4]Hz{697, 770, 852, 941}
	DTMFCols = [4]Hz{1209, 1336, 1477, 1633}
)

var dtmfKeypad = [4][4]byte{
	{'1', '2', '3', 'a'},
	{'4', '5', '6', 'b'},
	{'7', '8', '9', 'c'},
	{'*', '0', '#', 'd'},
}

// DTMFKey returns the keypad digit for a row and column index.
func DTMFKey(row, col int) byte {
	return dtmfKeypad[row][col]
}

// DTMF returns row and column frequencies of a digit.
func DTMF(digit byte) (row, col Hz, ok bool) {
	if digit >= 'A' && digit <= 'D' {
		digit += 'a' - 'A'
	}
	for r, keys := range dtmfKeypad {
		for c, k := range keys {
			if k == digit {
				return DTMFRows[r], DTMFCols[c], true
			}
		}
	}
	return 0, 0, false
}

// DTMFTone synthesizes a digit tone of a given duration. It returns nil for unknown digits.
func DTMFTone(digit byte, sampleRate int, dur time.Duration, amp int16) media.PCM16Sample {
	row, col, ok := DTMF(digit)
	if !ok {
		return nil
	}
	buf := make(media.PCM16Sample, int(time.Duration(sampleRate)*dur/time.Second))
	Generate(buf, sampleRate, 0, amp, row, col)
	return buf
}
