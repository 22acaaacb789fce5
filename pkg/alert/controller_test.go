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

package alert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/frostbyte73/core"
	"github.com/stretchr/testify/require"

	"github.com/livekit/sip-pager/pkg/errors"
	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/sip"
	"github.com/livekit/sip-pager/pkg/tts"
)

// Tests scale time down: one unit is 10ms.
const unit = 10 * time.Millisecond

type fakeRenderer struct {
	dir   string
	err   error
	calls int
	asset *tts.Asset
}

func (r *fakeRenderer) Render(ctx context.Context, message string) (*tts.Asset, error) {
	r.calls++
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrRender, r.err)
	}
	path := filepath.Join(r.dir, "alert.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		return nil, err
	}
	r.asset = tts.NewAsset(path, []media.PCM16Sample{make(media.PCM16Sample, 160)}, true)
	return r.asset, nil
}

type fakeCall struct {
	ended core.Fuse

	mu         sync.Mutex
	ack        bool
	reason     sip.EndReason
	err        error
	terminates int
	closes     int
}

func (c *fakeCall) Done() <-chan struct{} {
	return c.ended.Watch()
}

func (c *fakeCall) Acknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ack
}

func (c *fakeCall) Reason() sip.EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *fakeCall) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeCall) end(reason sip.EndReason, ack bool, err error) {
	c.mu.Lock()
	if c.ended.IsBroken() {
		c.mu.Unlock()
		return
	}
	c.reason, c.ack, c.err = reason, ack, err
	c.mu.Unlock()
	c.ended.Break()
}

func (c *fakeCall) Terminate() {
	c.mu.Lock()
	c.terminates++
	c.mu.Unlock()
	c.end(sip.ReasonTerminated, false, nil)
}

func (c *fakeCall) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func (c *fakeCall) counts() (terminates, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminates, c.closes
}

type fakeDialer struct {
	err    error
	block  bool
	call   *fakeCall
	calls  int
	frames []media.PCM16Sample
	// onDial runs in the background once the call is placed.
	onDial func(c *fakeCall)
}

func (d *fakeDialer) Dial(ctx context.Context, to string, frames []media.PCM16Sample) (Call, error) {
	d.calls++
	d.frames = frames
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	d.call = &fakeCall{}
	if d.onDial != nil {
		go d.onDial(d.call)
	}
	return d.call, nil
}

func newTestController(t *testing.T, d *fakeDialer, timeout time.Duration) (*Controller, *fakeRenderer) {
	r := &fakeRenderer{dir: t.TempDir()}
	return NewController(nil, nil, r, d, timeout), r
}

func testRequest(t *testing.T) Request {
	req, err := NewRequest("sip:oncall@pbx.example.com", "Disk full on db-1")
	require.NoError(t, err)
	return req
}

func TestNewRequest(t *testing.T) {
	for _, c := range []struct {
		name string
		to   string
		msg  string
		ok   bool
	}{
		{name: "valid", to: "sip:alice@example.com", msg: "hello", ok: true},
		{name: "sips", to: "sips:alice@example.com:5061", msg: "hello", ok: true},
		{name: "empty to", to: "", msg: "hello"},
		{name: "empty message", to: "sip:alice@example.com", msg: "  "},
		{name: "no scheme", to: "alice@example.com", msg: "hello"},
		{name: "no user", to: "sip:example.com", msg: "hello"},
		{name: "wrong scheme", to: "http://example.com", msg: "hello"},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewRequest(c.to, c.msg)
			if c.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, errors.ErrInvalidRequest)
			}
		})
	}
}

func TestAcknowledged(t *testing.T) {
	d := &fakeDialer{onDial: func(c *fakeCall) {
		time.Sleep(3 * unit)
		c.end(sip.ReasonAcknowledged, true, nil)
	}}
	ctrl, r := newTestController(t, d, 50*unit)

	start := time.Now()
	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.Equal(t, Acknowledged, res.Outcome)
	require.Equal(t, sip.ReasonAcknowledged, res.Reason)
	require.Less(t, time.Since(start), 25*unit)
	require.GreaterOrEqual(t, res.AckAfter, 3*unit)
	require.Equal(t, "Alert acknowledged", res.String())

	terminates, closes := d.call.counts()
	require.Equal(t, 0, terminates)
	require.Equal(t, 1, closes)
	require.Len(t, d.frames, 1)
	require.False(t, r.asset.Exists())
}

func TestNotAcknowledgedTimeout(t *testing.T) {
	d := &fakeDialer{}
	ctrl, r := newTestController(t, d, 5*unit)

	start := time.Now()
	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.Equal(t, NotAcknowledged, res.Outcome)
	require.Equal(t, sip.ReasonTerminated, res.Reason)
	require.GreaterOrEqual(t, time.Since(start), 5*unit)
	require.Equal(t, "Alert not acknowledged", res.String())

	terminates, _ := d.call.counts()
	require.Equal(t, 1, terminates)
	require.False(t, r.asset.Exists())
}

func TestRemoteHangup(t *testing.T) {
	d := &fakeDialer{onDial: func(c *fakeCall) {
		c.end(sip.ReasonHangup, false, nil)
	}}
	ctrl, r := newTestController(t, d, 50*unit)

	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.Equal(t, NotAcknowledged, res.Outcome)
	terminates, _ := d.call.counts()
	require.Equal(t, 0, terminates)
	require.False(t, r.asset.Exists())
}

func TestRejected(t *testing.T) {
	d := &fakeDialer{onDial: func(c *fakeCall) {
		c.end(sip.ReasonRejected, false, &sip.ErrorStatus{StatusCode: 486})
	}}
	ctrl, _ := newTestController(t, d, 50*unit)

	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.Equal(t, NotAcknowledged, res.Outcome)
	require.Equal(t, sip.ReasonRejected, res.Reason)
}

func TestCallError(t *testing.T) {
	codecErr := fmt.Errorf("no common codec")
	d := &fakeDialer{onDial: func(c *fakeCall) {
		c.end(sip.ReasonError, false, sip.SDPError{Err: codecErr})
	}}
	ctrl, r := newTestController(t, d, 50*unit)

	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.ErrorIs(t, err, errors.ErrCallFailed)
	require.ErrorIs(t, err, codecErr)
	require.Equal(t, Failed, res.Outcome)
	require.Contains(t, res.String(), "Alert failed: ")
	require.False(t, r.asset.Exists())
}

func TestMediaTimeout(t *testing.T) {
	d := &fakeDialer{onDial: func(c *fakeCall) {
		time.Sleep(2 * unit)
		c.end(sip.ReasonError, false, sip.ErrMediaTimeout)
	}}
	ctrl, r := newTestController(t, d, 50*unit)

	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	require.Equal(t, NotAcknowledged, res.Outcome)
	require.Equal(t, sip.ReasonError, res.Reason)
	require.Equal(t, "Alert not acknowledged", res.String())
	require.False(t, r.asset.Exists())
}

func TestInvalidRequest(t *testing.T) {
	d := &fakeDialer{}
	ctrl, r := newTestController(t, d, 50*unit)

	res, err := ctrl.Run(context.Background(), Request{To: "not-a-uri", Message: "hello"})
	require.ErrorIs(t, err, errors.ErrInvalidRequest)
	require.NotErrorIs(t, err, errors.ErrCallFailed)
	require.Equal(t, Failed, res.Outcome)
	require.Equal(t, 0, r.calls)
	require.Equal(t, 0, d.calls)
}

func TestRenderFailed(t *testing.T) {
	d := &fakeDialer{}
	ctrl, r := newTestController(t, d, 50*unit)
	r.err = fmt.Errorf("espeak: exit status 1")

	res, err := ctrl.Run(context.Background(), testRequest(t))
	require.ErrorIs(t, err, errors.ErrCallFailed)
	require.ErrorIs(t, err, errors.ErrRender)
	require.Equal(t, Failed, res.Outcome)
	require.Equal(t, 0, d.calls)
}

func TestDialFailed(t *testing.T) {
	for _, kind := range []error{errors.ErrTransport, errors.ErrConnect} {
		t.Run(kind.Error(), func(t *testing.T) {
			d := &fakeDialer{err: fmt.Errorf("%w: connection refused", kind)}
			ctrl, r := newTestController(t, d, 50*unit)

			res, err := ctrl.Run(context.Background(), testRequest(t))
			require.ErrorIs(t, err, errors.ErrCallFailed)
			require.ErrorIs(t, err, kind)
			require.Equal(t, kind, errors.Kind(err))
			require.Equal(t, Failed, res.Outcome)
			require.False(t, r.asset.Exists())
		})
	}
}

func TestDialNeverConnects(t *testing.T) {
	d := &fakeDialer{block: true}
	ctrl, r := newTestController(t, d, 5*unit)

	ctx, cancel := context.WithTimeout(context.Background(), 100*unit)
	defer cancel()
	start := time.Now()
	res, err := ctrl.Run(ctx, testRequest(t))
	require.Less(t, time.Since(start), 50*unit)
	require.NoError(t, ctx.Err())
	require.ErrorIs(t, err, errors.ErrCallFailed)
	require.Equal(t, errors.ErrConnect, errors.Kind(err))
	require.Equal(t, Failed, res.Outcome)
	require.False(t, r.asset.Exists())
}

func TestContextCancelled(t *testing.T) {
	d := &fakeDialer{}
	ctrl, r := newTestController(t, d, 50*unit)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(2*unit, cancel)
	res, err := ctrl.Run(ctx, testRequest(t))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, errors.ErrCallFailed)
	require.Equal(t, Failed, res.Outcome)

	terminates, closes := d.call.counts()
	require.Equal(t, 1, terminates)
	require.Equal(t, 1, closes)
	require.False(t, r.asset.Exists())
}
