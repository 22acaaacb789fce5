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
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
)

const UserAgent = "sip-pager"

type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
)

func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(s)); t {
	case TransportUDP, TransportTCP:
		return t, nil
	}
	return "", fmt.Errorf("unsupported transport %q", s)
}

// ParseURI parses a destination of the form sip:user@domain[:port].
// Both sip and sips schemes are accepted, user and host are required.
func ParseURI(s string) (sip.Uri, error) {
	var u sip.Uri
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "sip:") && !strings.HasPrefix(lower, "sips:") {
		return u, fmt.Errorf("uri %q: scheme must be sip or sips", s)
	}
	if err := sip.ParseUri(s, &u); err != nil {
		return u, fmt.Errorf("uri %q: %w", s, err)
	}
	if u.User == "" {
		return u, fmt.Errorf("uri %q: missing user", s)
	}
	if u.Host == "" {
		return u, fmt.Errorf("uri %q: missing host", s)
	}
	if u.Port < 0 || u.Port > 0xFFFF {
		return u, fmt.Errorf("uri %q: invalid port", s)
	}
	return u, nil
}

// State of a single outbound call.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateMediaActive State = "media-active"
	StateEnded       State = "ended"
)

// EndReason tells why a session reached StateEnded.
type EndReason string

const (
	ReasonNone         EndReason = ""
	ReasonAcknowledged EndReason = "acknowledged"
	ReasonTerminated   EndReason = "terminated"
	ReasonHangup       EndReason = "hangup"
	ReasonRejected     EndReason = "rejected"
	ReasonError        EndReason = "error"
)
