// Copyright 2025 The tokud Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokud/tokud/common"
)

var (
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "sessions_active",
			Help:      "Active sessions",
		},
	)

	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "frames_received_total",
			Help:      "Frames received total",
		},
		[]string{"opcode"},
	)

	bytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_received_total",
			Help:      "Bytes received total",
		},
	)

	bytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_sent_total",
			Help:      "Bytes sent total",
		},
	)

	decodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "decode_errors_total",
			Help:      "Terminal decoder errors total",
		},
	)

	pingTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "ping_timeouts_total",
			Help:      "Sessions closed by ping timeout total",
		},
	)
)
