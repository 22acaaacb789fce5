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

package sip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/looplab/fsm"

	"github.com/livekit/protocol/logger"

	perrors "github.com/livekit/sip-pager/pkg/errors"
	"github.com/livekit/sip-pager/pkg/stats"
)

const defaultHangupTimeout = 5 * time.Second

const (
	evDial   = "dial"
	evAnswer = "answer"
	evEnd    = "end"
)

// Signaling is the SIP side of an outbound call.
type Signaling interface {
	CallID() string
	// Invite sends the INVITE and returns once the request is handed to the transport.
	Invite(ctx context.Context, offer []byte) error
	// WaitAnswer waits for a final response and returns the SDP answer of a 2xx.
	WaitAnswer(ctx context.Context) ([]byte, error)
	Ack() error
	Cancel(ctx context.Context) error
	Bye(ctx context.Context) error
	Close()
}

// Media is the RTP side of an outbound call.
type Media interface {
	Offer() ([]byte, error)
	// Start applies the SDP answer and starts playback. Digits and timeouts are reported to h.
	Start(answer []byte, h MediaEvents) error
	Close() error
}

type SessionConfig struct {
	Log           logger.Logger
	Monitor       *stats.Monitor
	HangupTimeout time.Duration
	// OnClose is called once the session is closed.
	OnClose func(s *Session)
}

// Session is a single outbound call: idle, connecting, media-active and finally ended.
type Session struct {
	log   logger.Logger
	mon   *stats.Monitor
	conf  SessionConfig
	sig   Signaling
	media Media

	mu           sync.Mutex
	fsm          *fsm.FSM
	acknowledged bool
	reason       EndReason
	err          error
	startedAt    time.Time
	answeredAt   time.Time

	started    core.Fuse
	ended      core.Fuse
	runDone    core.Fuse
	closed     core.Fuse
	hangups    sync.WaitGroup
	waitCtx    context.Context
	cancelWait context.CancelFunc
}

func NewSession(sig Signaling, media Media, conf SessionConfig) *Session {
	if conf.Log == nil {
		conf.Log = logger.GetLogger()
	}
	if conf.HangupTimeout <= 0 {
		conf.HangupTimeout = defaultHangupTimeout
	}
	s := &Session{
		log:   conf.Log.WithValues("callID", sig.CallID()),
		mon:   conf.Monitor,
		conf:  conf,
		sig:   sig,
		media: media,
	}
	s.waitCtx, s.cancelWait = context.WithCancel(context.Background())
	s.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: evAnswer, Src: []string{string(StateConnecting)}, Dst: string(StateMediaActive)},
			{Name: evEnd, Src: []string{string(StateIdle), string(StateConnecting), string(StateMediaActive)}, Dst: string(StateEnded)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debugw("call state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

func (s *Session) CallID() string {
	return s.sig.CallID()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

func (s *Session) Acknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acknowledged
}

func (s *Session) Reason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches StateEnded.
func (s *Session) Done() <-chan struct{} {
	return s.ended.Watch()
}

// Start sends the INVITE and continues call setup in the background.
func (s *Session) Start(ctx context.Context) error {
	if s.started.IsBroken() {
		return errors.New("session already started")
	}
	s.started.Break()
	offer, err := s.media.Offer()
	if err != nil {
		err = SDPError{Err: err}
		s.OnEnded(ReasonError, err)
		s.runDone.Break()
		return err
	}
	s.mu.Lock()
	s.startedAt = time.Now()
	err = s.fsm.Event(ctx, evDial)
	s.mu.Unlock()
	if err != nil {
		s.runDone.Break()
		return err
	}
	s.log.Infow("dialing")
	if err := s.sig.Invite(ctx, offer); err != nil {
		err = fmt.Errorf("%w: %w", perrors.ErrConnect, err)
		s.OnEnded(ReasonError, err)
		s.runDone.Break()
		return err
	}
	go func() {
		defer s.runDone.Break()
		s.run()
	}()
	return nil
}

func (s *Session) run() {
	answer, err := s.sig.WaitAnswer(s.waitCtx)
	if err != nil {
		var st *ErrorStatus
		if errors.As(err, &st) {
			s.OnEnded(ReasonRejected, err)
		} else {
			s.OnEnded(ReasonError, err)
		}
		return
	}
	if err := s.sig.Ack(); err != nil {
		s.log.Warnw("cannot send ACK", err)
	}
	if s.State() == StateEnded {
		// Answered after the call was given up.
		s.startHangup(StateMediaActive)
		return
	}
	if err := s.media.Start(answer, s); err != nil {
		// The dialog is established, so it's closed with BYE even though media never started.
		s.end(ReasonError, SDPError{Err: err}, false, false)
		s.startHangup(StateMediaActive)
		return
	}
	if !s.OnMediaActive() {
		s.startHangup(StateMediaActive)
	}
}

// OnMediaActive moves a connecting call to StateMediaActive. It reports false if the call has already ended.
func (s *Session) OnMediaActive() bool {
	s.mu.Lock()
	if err := s.fsm.Event(context.Background(), evAnswer); err != nil {
		s.mu.Unlock()
		return false
	}
	s.answeredAt = time.Now()
	dur := s.answeredAt.Sub(s.startedAt)
	s.mu.Unlock()
	s.log.Infow("call answered", "after", dur)
	return true
}

// OnDigit handles a DTMF digit from the media layer. Digits only count while media is active.
func (s *Session) OnDigit(digit byte) {
	if s.State() != StateMediaActive {
		return
	}
	s.log.Infow("digit received", "digit", string(digit))
	s.Acknowledge()
}

func (s *Session) onMediaTimeout() {
	s.end(ReasonError, ErrMediaTimeout, true, false)
}

// OnEnded moves the session to StateEnded without further signaling, e.g. after a remote BYE.
func (s *Session) OnEnded(reason EndReason, err error) {
	s.end(reason, err, false, false)
}

// Acknowledge records the acknowledgement and hangs up. Only the first call while media is active has an effect.
func (s *Session) Acknowledge() {
	s.end(ReasonAcknowledged, nil, true, true)
}

// Terminate ends the call: CANCEL while connecting, BYE while media is active, nothing once ended.
func (s *Session) Terminate() {
	s.end(ReasonTerminated, nil, true, false)
}

func (s *Session) end(reason EndReason, err error, hangup, ack bool) bool {
	s.mu.Lock()
	prev := State(s.fsm.Current())
	if prev == StateEnded || (ack && prev != StateMediaActive) {
		s.mu.Unlock()
		return false
	}
	if e := s.fsm.Event(context.Background(), evEnd); e != nil {
		s.mu.Unlock()
		s.log.Warnw("cannot end call", e, "state", prev)
		return false
	}
	s.acknowledged = ack
	s.reason = reason
	s.err = err
	var dur time.Duration
	if !s.answeredAt.IsZero() {
		dur = time.Since(s.answeredAt)
	}
	start := func() {}
	if hangup {
		start = s.hangupLocked(prev)
	}
	s.mu.Unlock()

	_ = s.media.Close()
	start()
	s.mon.CallEnd(string(reason), dur)
	if err != nil {
		s.log.Infow("call ended", "reason", reason, "state", prev, "error", err)
	} else {
		s.log.Infow("call ended", "reason", reason, "state", prev)
	}
	s.ended.Break()
	return true
}

func (s *Session) startHangup(prev State) {
	s.mu.Lock()
	start := s.hangupLocked(prev)
	s.mu.Unlock()
	start()
}

// hangupLocked registers a pending CANCEL or BYE. The returned function sends it in the background.
func (s *Session) hangupLocked(prev State) func() {
	var (
		method string
		send   func(ctx context.Context) error
	)
	switch prev {
	case StateConnecting:
		method, send = "CANCEL", s.sig.Cancel
	case StateMediaActive:
		method, send = "BYE", s.sig.Bye
	default:
		return func() {}
	}
	s.hangups.Add(1)
	return func() {
		go func() {
			defer s.hangups.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.conf.HangupTimeout)
			defer cancel()
			if err := send(ctx); err != nil {
				s.log.Warnw("hangup failed", err, "method", method)
			} else {
				s.log.Debugw("hangup sent", "method", method)
			}
		}()
	}
}

// Close terminates the call if needed and waits for pending hangup requests.
func (s *Session) Close() {
	s.closed.Once(func() {
		s.Terminate()
		if !s.started.IsBroken() {
			s.runDone.Break()
		}
		select {
		case <-s.runDone.Watch():
		case <-time.After(s.conf.HangupTimeout):
		}
		s.cancelWait()
		<-s.runDone.Watch()
		s.hangups.Wait()
		s.sig.Close()
		if s.conf.OnClose != nil {
			s.conf.OnClose(s)
		}
	})
}
