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

package stats

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/livekit/sip-pager/pkg/config"
)

// Durations are in seconds
var (
	// durBucketsOp lists histogram buckets for short operations like SIP INVITE.
	durBucketsOp = []float64{
		0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
	}
	// durBucketsAck lists histogram buckets for the time it takes to acknowledge an alert.
	durBucketsAck = []float64{
		1, 2, 5, 10, 15, 20, 30, 60,
	}
	// sizeBuckets lists histogram buckets for SDP size.
	sizeBuckets = []float64{
		100, 250, 500, 750, 1000, 1250, 1500,
	}
)

const (
	namespace = "sip_pager"

	DTMFTelephoneEvent = "rfc4733"
	DTMFInband         = "inband"
)

type Monitor struct {
	conf config.PrometheusConfig

	alerts          *prometheus.CounterVec
	inviteReq       prometheus.Counter
	inviteResp      *prometheus.CounterVec
	inviteErr       *prometheus.CounterVec
	callsTerminated *prometheus.CounterVec
	dtmf            *prometheus.CounterVec
	packetsRTP      *prometheus.CounterVec
	durInvite       prometheus.Histogram
	durAck          prometheus.Histogram
	durCall         prometheus.Histogram
	sdpSize         *prometheus.HistogramVec

	metrics []prometheus.Collector
	started core.Fuse
}

func NewMonitor(conf *config.Config) *Monitor {
	return &Monitor{conf: conf.Prometheus}
}

func mustRegister[T prometheus.Collector](m *Monitor, c T) T {
	err := prometheus.Register(c)
	if err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			c = e.ExistingCollector.(T)
		} else {
			panic(err)
		}
	}
	m.metrics = append(m.metrics, c)
	return c
}

func (m *Monitor) Start() error {
	m.alerts = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts",
		Help:      "Number of alerts by outcome",
	}, []string{"outcome"}))

	m.inviteReq = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "invite_requests",
		Help:      "Number of SIP INVITE requests sent",
	}))

	m.inviteResp = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "invite_responses",
		Help:      "Number of final SIP INVITE responses by status code",
	}, []string{"status"}))

	m.inviteErr = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "invite_error",
		Help:      "Number of SIP INVITE requests that failed without a final response",
	}, []string{"reason"}))

	m.callsTerminated = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "calls_terminated",
		Help:      "Number of calls by end reason",
	}, []string{"reason"}))

	m.dtmf = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "dtmf_digits",
		Help:      "Number of DTMF digits detected",
	}, []string{"source"}))

	m.packetsRTP = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "rtp_packets",
		Help:      "Number of RTP packets sent or received",
	}, []string{"op", "payload"}))

	m.durInvite = mustRegister(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "dur_invite_sec",
		Help:      "Time until the final INVITE response",
		Buckets:   durBucketsOp,
	}))

	m.durAck = mustRegister(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dur_ack_sec",
		Help:      "Time from dialing until the alert was acknowledged",
		Buckets:   durBucketsAck,
	}))

	m.durCall = mustRegister(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "dur_call_sec",
		Help:      "Duration of answered calls",
		Buckets:   durBucketsOp,
	}))

	m.sdpSize = mustRegister(m, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "sdp_size_bytes",
		Help:      "SDP size in bytes",
		Buckets:   sizeBuckets,
	}, []string{"type"}))

	m.started.Break()
	return nil
}

// Push sends collected metrics to the Pushgateway, if one is configured.
func (m *Monitor) Push(ctx context.Context) error {
	if m == nil || m.conf.PushURL == "" || !m.started.IsBroken() {
		return nil
	}
	p := push.New(m.conf.PushURL, m.conf.Job)
	for _, c := range m.metrics {
		p = p.Collector(c)
	}
	return p.PushContext(ctx)
}

func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	for _, c := range m.metrics {
		prometheus.Unregister(c)
	}
	m.metrics = nil
}

func (m *Monitor) enabled() bool {
	return m != nil && m.started.IsBroken()
}

func (m *Monitor) AlertResult(outcome string) {
	if m.enabled() {
		m.alerts.WithLabelValues(outcome).Inc()
	}
}

func (m *Monitor) AckDur(d time.Duration) {
	if m.enabled() {
		m.durAck.Observe(d.Seconds())
	}
}

func (m *Monitor) InviteReq() {
	if m.enabled() {
		m.inviteReq.Inc()
	}
}

func (m *Monitor) InviteResponse(status int, dur time.Duration) {
	if m.enabled() {
		m.inviteResp.WithLabelValues(strconv.Itoa(status)).Inc()
		m.durInvite.Observe(dur.Seconds())
	}
}

func (m *Monitor) InviteError(reason string) {
	if m.enabled() {
		m.inviteErr.WithLabelValues(reason).Inc()
	}
}

func (m *Monitor) CallEnd(reason string, dur time.Duration) {
	if m.enabled() {
		m.callsTerminated.WithLabelValues(reason).Inc()
		if dur > 0 {
			m.durCall.Observe(dur.Seconds())
		}
	}
}

func (m *Monitor) DTMF(source string) {
	if m.enabled() {
		m.dtmf.WithLabelValues(source).Inc()
	}
}

func (m *Monitor) RTPPacketSend(payloadType string) {
	if m.enabled() {
		m.packetsRTP.WithLabelValues("send", payloadType).Inc()
	}
}

func (m *Monitor) RTPPacketRecv(payloadType string) {
	if m.enabled() {
		m.packetsRTP.WithLabelValues("recv", payloadType).Inc()
	}
}

func (m *Monitor) SDPSize(sz int, isOffer bool) {
	if !m.enabled() {
		return
	}
	typ := "answer"
	if isOffer {
		typ = "offer"
	}
	m.sdpSize.WithLabelValues(typ).Observe(float64(sz))
}
