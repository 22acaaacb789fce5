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
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/errors"
)

// writeWAV creates a 16 bit WAV with a 440 Hz tone on every channel.
func writeWAV(t *testing.T, path string, rate, channels int, dur time.Duration) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	n := int(time.Duration(rate) * dur / time.Second)
	data := make([]int, 0, n*channels)
	for i := 0; i < n; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			data = append(data, v)
		}
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Close())
}

func TestDecodeWAV(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name     string
		rate     int
		channels int
	}{
		{"espeak", 22050, 1},
		{"stereo", 44100, 2},
		{"narrowband", 8000, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(dir, c.name+".wav")
			writeWAV(t, path, c.rate, c.channels, time.Second)
			frames, err := DecodeFile(path)
			require.NoError(t, err)
			require.InDelta(t, 50, len(frames), 1)
			for _, f := range frames {
				require.Len(t, f, 160)
			}
			var peak int16
			for _, f := range frames {
				for _, v := range f {
					peak = max(peak, v)
				}
			}
			require.InDelta(t, 8000, peak, 800)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := DecodeFile(filepath.Join(dir, "missing.wav"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = DecodeFile(empty)
	require.ErrorIs(t, err, ErrUnknownFormat)

	text := filepath.Join(dir, "text.wav")
	require.NoError(t, os.WriteFile(text, []byte("not audio at all"), 0644))
	_, err = DecodeFile(text)
	require.ErrorIs(t, err, ErrUnknownFormat)

	ogg := filepath.Join(dir, "bad.ogg")
	require.NoError(t, os.WriteFile(ogg, []byte("OggS broken"), 0644))
	_, err = DecodeFile(ogg)
	require.Error(t, err)

	silent := filepath.Join(dir, "silent.wav")
	writeWAV(t, silent, 8000, 1, 0)
	_, err = DecodeFile(silent)
	require.Error(t, err)
}

func newTestRenderer(t *testing.T, script string) (*ExecRenderer, string) {
	dir := t.TempDir()
	return NewExecRenderer(logger.GetLogger(), config.TTSConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Suffix:  ".wav",
		Prompt:  ". Press any key to acknowledge this alarm.",
		Dir:     dir,
	}), dir
}

func TestExecRenderer(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.wav")
	writeWAV(t, fixture, 22050, 1, 2*time.Second)
	textOut := filepath.Join(t.TempDir(), "text.txt")

	r, dir := newTestRenderer(t, "cat > "+textOut+" && cp "+fixture+" {file}")
	asset, err := r.Render(context.Background(), "Server down")
	require.NoError(t, err)
	require.True(t, asset.Owned())
	require.True(t, asset.Exists())
	require.Equal(t, dir, filepath.Dir(asset.Path))
	require.InDelta(t, 2*time.Second, asset.Duration(), float64(20*time.Millisecond))

	text, err := os.ReadFile(textOut)
	require.NoError(t, err)
	require.Equal(t, "Server down. Press any key to acknowledge this alarm.", string(text))

	require.NoError(t, asset.Release())
	require.False(t, asset.Exists())
	// second release is a no-op
	require.NoError(t, asset.Release())
}

func TestExecRendererFailure(t *testing.T) {
	cases := []struct {
		name   string
		script string
	}{
		{"exit code", "echo boom >&2; exit 3"},
		{"no output", "cat > /dev/null"},
		{"garbage output", "echo garbage > {file}"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, dir := newTestRenderer(t, c.script)
			asset, err := r.Render(context.Background(), "Server down")
			require.ErrorIs(t, err, errors.ErrRender)
			require.Nil(t, asset)
			// the temporary file is cleaned up
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestExecRendererMissingCommand(t *testing.T) {
	r := NewExecRenderer(nil, config.TTSConfig{
		Command: "sip-pager-no-such-tts",
		Dir:     t.TempDir(),
	})
	_, err := r.Render(context.Background(), "hello")
	require.ErrorIs(t, err, errors.ErrRender)
}

func TestFileRenderer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.wav")
	writeWAV(t, path, 16000, 1, time.Second)

	asset, err := FileRenderer{Path: path}.Render(context.Background(), "ignored")
	require.NoError(t, err)
	require.False(t, asset.Owned())
	require.NotEmpty(t, asset.Frames)
	require.NoError(t, asset.Release())
	require.True(t, asset.Exists(), "user files must be kept")

	_, err = FileRenderer{Path: path + ".missing"}.Render(context.Background(), "")
	require.ErrorIs(t, err, errors.ErrRender)
}
