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
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/config"
	"github.com/livekit/sip-pager/pkg/errors"
	"github.com/livekit/sip-pager/pkg/media"
	"github.com/livekit/sip-pager/pkg/sip"
	"github.com/livekit/sip-pager/pkg/stats"
	"github.com/livekit/sip-pager/pkg/tts"
)

var tracer = otel.Tracer("github.com/livekit/sip-pager/pkg/alert")

// Call is the part of sip.Session the controller depends on.
type Call interface {
	Done() <-chan struct{}
	Acknowledged() bool
	Reason() sip.EndReason
	Err() error
	Terminate()
	Close()
}

type Dialer interface {
	Dial(ctx context.Context, to string, frames []media.PCM16Sample) (Call, error)
}

// SIPDialer places calls through a sip.Client, starting it on the first call.
type SIPDialer struct {
	Client *sip.Client

	once     sync.Once
	startErr error
}

func (d *SIPDialer) Dial(ctx context.Context, to string, frames []media.PCM16Sample) (Call, error) {
	d.once.Do(func() {
		d.startErr = d.Client.Start(ctx)
	})
	if d.startErr != nil {
		return nil, d.startErr
	}
	s, err := d.Client.Dial(ctx, sip.DialRequest{To: to, Frames: frames})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Result struct {
	ID      string
	Outcome Outcome
	// Reason is why the call ended. Empty if no call was placed.
	Reason sip.EndReason
	// Err is set for Failed outcomes.
	Err error
	// AckAfter is the time from dialing to the acknowledgement.
	AckAfter time.Duration
}

func (r Result) String() string {
	switch r.Outcome {
	case Acknowledged:
		return "Alert acknowledged"
	case NotAcknowledged:
		return "Alert not acknowledged"
	default:
		return fmt.Sprintf("Alert failed: %v", r.Err)
	}
}

type Controller struct {
	log      logger.Logger
	mon      *stats.Monitor
	renderer tts.Renderer
	dialer   Dialer
	timeout  time.Duration
}

func NewController(log logger.Logger, mon *stats.Monitor, r tts.Renderer, d Dialer, timeout time.Duration) *Controller {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = config.DefaultAckTimeout
	}
	return &Controller{
		log:      log,
		mon:      mon,
		renderer: r,
		dialer:   d,
		timeout:  timeout,
	}
}

// Run performs one alert attempt. A non-nil error is returned only for Failed outcomes:
// errors.ErrInvalidRequest for a malformed request, errors.ErrCallFailed wrapping the cause otherwise.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{ID: "AL_" + uuid.NewString()}
	log := c.log.WithValues("alertID", res.ID, "to", req.To)

	ctx, span := tracer.Start(ctx, "alert.Run", trace.WithAttributes(
		attribute.String("alert.id", res.ID),
		attribute.String("alert.to", req.To),
	))
	defer span.End()

	fail := func(err error) (Result, error) {
		res.Outcome, res.Err = Failed, err
		kind := "unknown"
		if k := errors.Kind(err); k != nil {
			kind = k.Error()
		}
		log.Warnw("alert failed", err, "reason", res.Reason, "kind", kind)
		c.mon.AlertResult(string(Failed))
		span.SetAttributes(
			attribute.String("alert.outcome", string(Failed)),
			attribute.String("alert.error_kind", kind),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}

	asset, err := c.render(ctx, req.Message)
	if err != nil {
		return fail(errors.CallFailed(err))
	}
	defer func() {
		if err := asset.Release(); err != nil {
			log.Warnw("cannot remove rendered audio", err, "path", asset.Path)
		}
	}()
	log.Infow("message rendered", "duration", asset.Duration(), "owned", asset.Owned())

	// A host that never answers the connection attempt must not outlive the acknowledgement timeout.
	dialCtx, cancelDial := context.WithTimeout(ctx, c.timeout)
	defer cancelDial()
	dialCtx, dialSpan := tracer.Start(dialCtx, "alert.Dial")
	start := time.Now()
	call, err := c.dialer.Dial(dialCtx, req.To, asset.Frames)
	dialSpan.End()
	if err != nil {
		if ctx.Err() == nil && dialCtx.Err() == context.DeadlineExceeded && errors.Kind(err) == nil {
			err = fmt.Errorf("%w: no connection within %v: %w", errors.ErrConnect, c.timeout, err)
		}
		return fail(errors.CallFailed(err))
	}
	defer call.Close()

	res.Outcome, err = c.wait(ctx, log, call)
	res.Reason = call.Reason()
	if err != nil {
		return fail(errors.CallFailed(err))
	}
	if res.Outcome == Acknowledged {
		res.AckAfter = time.Since(start)
		c.mon.AckDur(res.AckAfter)
	}
	log.Infow("alert finished", "outcome", res.Outcome, "reason", res.Reason, "ackAfter", res.AckAfter)
	c.mon.AlertResult(string(res.Outcome))
	span.SetAttributes(attribute.String("alert.outcome", string(res.Outcome)))
	return res, nil
}

func (c *Controller) render(ctx context.Context, message string) (*tts.Asset, error) {
	ctx, span := tracer.Start(ctx, "alert.Render")
	defer span.End()
	asset, err := c.renderer.Render(ctx, message)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return asset, nil
}

// wait blocks until the call ends, the acknowledgement timeout elapses or ctx is cancelled.
func (c *Controller) wait(ctx context.Context, log logger.Logger, call Call) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "alert.Wait")
	defer span.End()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-call.Done():
	case <-timer.C:
		log.Infow("no acknowledgement before timeout", "timeout", c.timeout)
		call.Terminate()
		<-call.Done()
		// A digit or an error may have ended the call while the timeout fired.
		return outcomeOf(call)
	case <-ctx.Done():
		call.Terminate()
		return Failed, ctx.Err()
	}
	return outcomeOf(call)
}

// outcomeOf maps an ended call to the alert outcome.
// Declined and unanswered calls are a normal outcome, only errors fail the alert.
// A callee that stops sending audio (silence suppression, voicemail) is not an error either.
func outcomeOf(call Call) (Outcome, error) {
	if call.Acknowledged() {
		return Acknowledged, nil
	}
	switch call.Reason() {
	case sip.ReasonError:
		err := call.Err()
		if stderrors.Is(err, sip.ErrMediaTimeout) {
			return NotAcknowledged, nil
		}
		if err == nil {
			err = fmt.Errorf("call ended with an error")
		}
		return Failed, err
	default:
		return NotAcknowledged, nil
	}
}
