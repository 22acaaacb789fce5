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
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/sip-pager/pkg/stats"
)

const maxAuthAttempts = 2

// sipOutbound is the signaling side of a single outbound call.
type sipOutbound struct {
	log       logger.Logger
	mon       *stats.Monitor
	cli       *sipgo.Client
	transport Transport
	user      string
	pass      string

	from    *sip.FromHeader
	contact *sip.ContactHeader
	to      sip.Uri
	callID  string

	mu       sync.Mutex
	cseq     uint32
	invite   *sip.Request
	tx       sip.ClientTransaction
	inviteOk *sip.Response
	sentAt   time.Time
}

type outboundConfig struct {
	Transport Transport
	From      sip.Uri
	Contact   sip.Uri
	To        sip.Uri
	User      string
	Pass      string
}

func newOutbound(log logger.Logger, mon *stats.Monitor, cli *sipgo.Client, conf outboundConfig) *sipOutbound {
	from := &sip.FromHeader{
		Address: conf.From,
		Params:  sip.HeaderParams{"tag": sip.GenerateTagN(16)},
	}
	return &sipOutbound{
		log:       log,
		mon:       mon,
		cli:       cli,
		transport: conf.Transport,
		user:      conf.User,
		pass:      conf.Pass,
		from:      from,
		contact:   &sip.ContactHeader{Address: conf.Contact},
		to:        withTransport(conf.To, conf.Transport),
		callID:    newCallID(),
		cseq:      1,
	}
}

func newCallID() string {
	return strings.ReplaceAll(sip.GenerateTagN(32), "-", "")
}

// withTransport pins the transport of a request URI, unless the URI already carries one.
func withTransport(u sip.Uri, t Transport) sip.Uri {
	if t == "" || strings.EqualFold(u.Scheme, "sips") {
		return u
	}
	if _, ok := u.UriParams.Get("transport"); ok {
		return u
	}
	params := sip.NewParams()
	for k, v := range u.UriParams {
		params[k] = v
	}
	params["transport"] = string(t)
	u.UriParams = params
	return u
}

func (c *sipOutbound) CallID() string {
	return c.callID
}

// Invite sends the initial INVITE. It returns once the request is handed to the transport.
func (c *sipOutbound) Invite(ctx context.Context, offer []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentAt = time.Now()
	return c.attemptInvite(ctx, offer, "", "")
}

func (c *sipOutbound) attemptInvite(ctx context.Context, offer []byte, authName, authValue string) error {
	req := newInviteRequest(c.to, c.from, c.contact, c.callID, c.cseq, offer)
	if authName != "" {
		req.AppendHeader(sip.NewHeader(authName, authValue))
	}
	c.mon.InviteReq()
	tx, err := c.cli.TransactionRequest(ctx, req)
	if err != nil {
		c.mon.InviteError("send")
		return err
	}
	if c.tx != nil {
		c.tx.Terminate()
	}
	c.invite, c.tx = req, tx
	c.log.Debugw("INVITE sent", "cseq", c.cseq, "auth", authName != "")
	return nil
}

// WaitAnswer blocks until the INVITE gets a final response and returns the SDP answer of a 2xx.
// Auth challenges are answered along the way when credentials are configured.
func (c *sipOutbound) WaitAnswer(ctx context.Context) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		tx, req := c.tx, c.invite
		c.mu.Unlock()
		if tx == nil {
			return nil, errors.New("no INVITE in progress")
		}
		resp, err := sipResponse(ctx, tx)
		if err != nil {
			c.mon.InviteError("transaction")
			return nil, err
		}
		status := int(resp.StatusCode)
		c.mon.InviteResponse(status, time.Since(c.sentAt))
		c.log.Infow("INVITE response", "status", status, "reason", resp.Reason)
		switch {
		case status >= 200 && status < 300:
			c.mu.Lock()
			c.inviteOk = resp
			c.mu.Unlock()
			return resp.Body(), nil
		case status == 401 || status == 407:
			if c.user == "" || c.pass == "" {
				return nil, fmt.Errorf("server requires auth, but no credentials are configured: %w", &ErrorStatus{StatusCode: status, Message: resp.Reason})
			}
			if attempt >= maxAuthAttempts {
				return nil, fmt.Errorf("auth rejected: %w", &ErrorStatus{StatusCode: status, Message: resp.Reason})
			}
			name, value, err := authorize(req, resp, c.user, c.pass)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.cseq++
			err = c.attemptInvite(ctx, req.Body(), name, value)
			c.mu.Unlock()
			if err != nil {
				return nil, err
			}
		default:
			return nil, &ErrorStatus{StatusCode: status, Message: resp.Reason}
		}
	}
}

// authorize computes the digest credentials answering the challenge in resp.
func authorize(req *sip.Request, resp *sip.Response, user, pass string) (name, value string, _ error) {
	challengeName, authName := "WWW-Authenticate", "Authorization"
	if int(resp.StatusCode) == 407 {
		challengeName, authName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := resp.GetHeader(challengeName)
	if h == nil {
		return "", "", fmt.Errorf("no %s header in %d response", challengeName, resp.StatusCode)
	}
	challenge, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return "", "", err
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: user,
		Password: pass,
	})
	if err != nil {
		return "", "", err
	}
	return authName, cred.String(), nil
}

// sipResponse waits for the final response of the transaction, skipping provisional ones.
func sipResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	cnt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("transaction failed (%d intermediate responses): %w", cnt, err)
			}
			return nil, fmt.Errorf("transaction failed to complete (%d intermediate responses)", cnt)
		case res := <-tx.Responses():
			if int(res.StatusCode) >= 200 {
				return res, nil
			}
			cnt++
		}
	}
}

func (c *sipOutbound) Ack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invite == nil || c.inviteOk == nil {
		return errors.New("call is not answered")
	}
	ack := newInDialogRequest(sip.ACK, c.invite, c.inviteOk, c.transport)
	return c.cli.WriteRequest(ack)
}

// Cancel stops a pending INVITE. It does nothing once the call is answered.
func (c *sipOutbound) Cancel(ctx context.Context) error {
	c.mu.Lock()
	invite, ok := c.invite, c.inviteOk != nil
	c.mu.Unlock()
	if invite == nil || ok {
		return nil
	}
	tx, err := c.cli.TransactionRequest(ctx, newCancelRequest(invite))
	if err != nil {
		return err
	}
	defer tx.Terminate()
	resp, err := sipResponse(ctx, tx)
	if err != nil {
		return err
	}
	c.log.Infow("CANCEL response", "status", resp.StatusCode)
	return nil
}

// Bye hangs up an answered call.
func (c *sipOutbound) Bye(ctx context.Context) error {
	c.mu.Lock()
	if c.invite == nil || c.inviteOk == nil {
		c.mu.Unlock()
		return nil
	}
	bye := newInDialogRequest(sip.BYE, c.invite, c.inviteOk, c.transport)
	c.inviteOk = nil
	c.mu.Unlock()

	bye.AppendHeader(sip.NewHeader("User-Agent", UserAgent))
	tx, err := c.cli.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()
	resp, err := sipResponse(ctx, tx)
	if err != nil {
		return err
	}
	if int(resp.StatusCode) != 200 {
		return fmt.Errorf("BYE failed: %w", &ErrorStatus{StatusCode: int(resp.StatusCode), Message: resp.Reason})
	}
	return nil
}

func (c *sipOutbound) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		c.tx.Terminate()
		c.tx = nil
	}
}

func newInviteRequest(to sip.Uri, from *sip.FromHeader, contact *sip.ContactHeader, callID string, cseq uint32, offer []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, to)
	req.SetBody(offer)
	toAddr := to
	toAddr.UriParams = nil
	req.AppendHeader(&sip.ToHeader{Address: toAddr, Params: sip.NewParams()})
	req.AppendHeader(from)
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.INVITE})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(contact)
	req.AppendHeader(sip.NewHeader("User-Agent", UserAgent))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE"))
	return req
}

// newCancelRequest builds a CANCEL matching the INVITE transaction: same Via branch, Route set,
// From, To, Call-ID and CSeq number. The INVITE must have been sent, so its Via is set.
func newCancelRequest(invite *sip.Request) *sip.Request {
	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	if via := invite.Via(); via != nil {
		cp := *via
		cp.Params = sip.NewParams()
		for k, v := range via.Params {
			cp.Params[k] = v
		}
		req.AppendHeader(&cp)
	}
	for _, h := range invite.GetHeaders("Route") {
		req.AppendHeader(h)
	}
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	if from := invite.From(); from != nil {
		req.AppendHeader(from)
	}
	if to := invite.To(); to != nil {
		req.AppendHeader(to)
	}
	if cid := invite.CallID(); cid != nil {
		req.AppendHeader(cid)
	}
	if cseq := invite.CSeq(); cseq != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	return req
}

// newInDialogRequest builds ACK or BYE for a dialog established by invite and its 2xx response.
// The request goes to the remote Contact, through the reversed Record-Route set.
func newInDialogRequest(method sip.RequestMethod, invite *sip.Request, ok *sip.Response, t Transport) *sip.Request {
	target := invite.Recipient
	if cont := ok.Contact(); cont != nil {
		target = withTransport(cont.Address, t)
	}
	req := sip.NewRequest(method, target)

	rr := ok.GetHeaders("Record-Route")
	for i := len(rr) - 1; i >= 0; i-- {
		if h, isRR := rr[i].(*sip.RecordRouteHeader); isRR {
			req.AppendHeader(&sip.RouteHeader{Address: h.Address})
		}
	}
	if from := invite.From(); from != nil {
		req.AppendHeader(from)
	}
	if to := ok.To(); to != nil {
		req.AppendHeader(to)
	}
	if cid := invite.CallID(); cid != nil {
		req.AppendHeader(cid)
	}
	seq := uint32(1)
	if cseq := invite.CSeq(); cseq != nil {
		seq = cseq.SeqNo
	}
	if method != sip.ACK {
		seq++
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}
