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

// Package alert runs a single alert attempt: render the message, call the recipient and wait for an acknowledgement.
package alert

import (
	"strings"

	"github.com/livekit/sip-pager/pkg/errors"
	"github.com/livekit/sip-pager/pkg/sip"
)

// Request is a validated alert. Construct it with NewRequest.
type Request struct {
	To      string
	Message string
}

func NewRequest(to, message string) (Request, error) {
	req := Request{To: strings.TrimSpace(to), Message: strings.TrimSpace(message)}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks that both fields are set and the destination is a sip: or sips: URI with user and host.
func (r Request) Validate() error {
	if r.To == "" {
		return errors.InvalidRequest("destination is empty")
	}
	if r.Message == "" {
		return errors.InvalidRequest("message is empty")
	}
	if _, err := sip.ParseURI(r.To); err != nil {
		return errors.InvalidRequest("%v", err)
	}
	return nil
}

type Outcome string

const (
	Acknowledged    Outcome = "acknowledged"
	NotAcknowledged Outcome = "not_acknowledged"
	Failed          Outcome = "failed"
)
