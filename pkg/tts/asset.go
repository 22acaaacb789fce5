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

// Package tts renders alert messages into looping call audio.
package tts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/livekit/sip-pager/pkg/media"
)

// SampleRate of decoded asset frames.
const SampleRate = 8000

// Renderer turns a message into playable audio.
type Renderer interface {
	Render(ctx context.Context, message string) (*Asset, error)
}

// Asset is a rendered audio file together with its decoded frames.
type Asset struct {
	Path   string
	Frames []media.PCM16Sample

	owned       bool
	releaseOnce sync.Once
	releaseErr  error
}

// NewAsset wraps decoded frames of the file at path. Owned assets delete the file on Release.
func NewAsset(path string, frames []media.PCM16Sample, owned bool) *Asset {
	return &Asset{Path: path, Frames: frames, owned: owned}
}

// Owned reports whether Release deletes the file.
func (a *Asset) Owned() bool {
	return a.owned
}

func (a *Asset) Duration() time.Duration {
	return media.Duration(a.Frames, SampleRate)
}

// Exists reports whether the file is still on disk.
func (a *Asset) Exists() bool {
	if a == nil || a.Path == "" {
		return false
	}
	_, err := os.Stat(a.Path)
	return err == nil
}

// Release removes the file if the asset owns it. It's safe to call multiple times.
func (a *Asset) Release() error {
	if a == nil {
		return nil
	}
	a.releaseOnce.Do(func() {
		if !a.owned {
			return
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.releaseErr = err
		}
	})
	return a.releaseErr
}
