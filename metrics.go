// SPDX-License-Identifier: GPL-3.0
// Copyright 2026 SVI Lab

package mcis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for one interface instance.
type Metrics struct {
	SendTicks     prometheus.Counter
	CommandsSent  prometheus.Counter
	ShortSends    prometheus.Counter
	RepliesRecv   prometheus.Counter
	LatchedFaults prometheus.Counter
	IfaceState    prometheus.Gauge
	MBState       prometheus.Gauge
}

// NewMetrics registers the interface metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SendTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "mcis_send_ticks_total",
			Help: "Send loop ticks at the 120 Hz rate.",
		}),
		CommandsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mcis_mb_commands_total",
			Help: "DOF command packets sent to the motion base.",
		}),
		ShortSends: f.NewCounter(prometheus.CounterOpts{
			Name: "mcis_mb_short_sends_total",
			Help: "Command sends that wrote fewer bytes than the packet size.",
		}),
		RepliesRecv: f.NewCounter(prometheus.CounterOpts{
			Name: "mcis_mb_replies_total",
			Help: "Reply packets received from the motion base.",
		}),
		LatchedFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "mcis_mb_latched_faults_total",
			Help: "Replies carrying a nonzero latched fault word.",
		}),
		IfaceState: f.NewGauge(prometheus.GaugeOpts{
			Name: "mcis_iface_state",
			Help: "Current interface session state (see SessionState values).",
		}),
		MBState: f.NewGauge(prometheus.GaugeOpts{
			Name: "mcis_mb_state",
			Help: "Last decoded motion base machine state.",
		}),
	}
}
