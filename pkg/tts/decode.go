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

package tts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"

	"github.com/livekit/sip-pager/pkg/media"
)

var (
	ErrUnknownFormat = errors.New("unknown audio format")
	ErrEmptyAudio    = errors.New("audio file has no samples")
)

// DecodeFile reads a WAV or OGG Vorbis file and returns mono 8 kHz frames.
func DecodeFile(path string) ([]media.PCM16Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic, err := bufio.NewReader(f).Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownFormat, err)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var (
		samples media.PCM16Sample
		rate    int
	)
	switch {
	case bytes.Equal(magic, []byte("RIFF")):
		samples, rate, err = decodeWAV(f)
	case bytes.Equal(magic, []byte("OggS")):
		samples, rate, err = decodeOgg(f)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 || rate <= 0 {
		return nil, ErrEmptyAudio
	}
	frames := media.SplitFrames(media.Resample(nil, SampleRate, samples, rate), SampleRate)
	if len(frames) == 0 {
		return nil, ErrEmptyAudio
	}
	return frames, nil
}

func decodeWAV(r io.ReadSeeker) (media.PCM16Sample, int, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid wav file", ErrUnknownFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot decode wav: %w", err)
	}
	channels := int(d.NumChans)
	if channels <= 0 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrUnknownFormat)
	}
	depth := int(d.BitDepth)
	toPCM16 := func(v int) int {
		switch {
		case depth == 8:
			// 8 bit wav is unsigned
			return (v - 128) << 8
		case depth > 16:
			return v >> (depth - 16)
		default:
			return v
		}
	}
	out := make(media.PCM16Sample, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		var sum int
		for c := 0; c < channels; c++ {
			sum += toPCM16(buf.Data[i+c])
		}
		out = append(out, clamp(float64(sum)/float64(channels)))
	}
	return out, int(d.SampleRate), nil
}

func decodeOgg(r io.Reader) (media.PCM16Sample, int, error) {
	or, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot decode ogg: %w", err)
	}
	channels := or.Channels()
	if channels <= 0 {
		return nil, 0, fmt.Errorf("%w: no channels", ErrUnknownFormat)
	}
	var out media.PCM16Sample
	buf := make([]float32, channels*or.SampleRate()/media.DefFramesPerSec)
	for {
		n, err := or.Read(buf)
		for i := 0; i+channels <= n; i += channels {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += buf[i+c]
			}
			out = append(out, clamp(float64(sum)/float64(channels)*math.MaxInt16))
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, 0, fmt.Errorf("cannot decode ogg: %w", err)
		}
	}
	return out, or.SampleRate(), nil
}

func clamp(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	} else if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
