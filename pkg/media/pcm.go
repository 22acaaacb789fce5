// Copyright 2023 LiveKit, Inc.
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
	"time"
)

type PCM16Sample []int16

func (s PCM16Sample) Clear() {
	clear(s)
}

// SamplesPerFrame returns the number of samples in a single frame of DefFrameDur.
func SamplesPerFrame(sampleRate int) int {
	return sampleRate / DefFramesPerSec
}

// SplitFrames splits continuous audio into frames of DefFrameDur.
// The last frame is padded with silence.
func SplitFrames(samples PCM16Sample, sampleRate int) []PCM16Sample {
	perFrame := SamplesPerFrame(sampleRate)
	if perFrame <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([]PCM16Sample, 0, (len(samples)+perFrame-1)/perFrame)
	for len(samples) > 0 {
		frame := make(PCM16Sample, perFrame)
		n := copy(frame, samples)
		samples = samples[n:]
		frames = append(frames, frame)
	}
	return frames
}

// Duration returns the total duration of frames at a given sample rate.
func Duration(frames []PCM16Sample, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	var n int
	for _, f := range frames {
		n += len(f)
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
