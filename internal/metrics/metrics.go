// Package metrics exposes the daemon's Prometheus gauges: wakelock state,
// escalation ladder level, watchdog liveness, and CLA/CTRL FSM state.
// WakelockHeld, EscalationLevel and EscalationRebootCount are registered
// but no package sets them, so they always read 0.
//
// This is an ambient-stack addition (SPEC_FULL.md §3): neither the teacher
// nor the original C source had a metrics surface, but gcsfuse and
// oriys-nova both instrument long-running daemons with
// github.com/prometheus/client_golang, and the CMRM daemon is exactly the
// kind of long-lived host service that corpus convention instruments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the collector registry metrics are registered against. A
// package-level default lets cmd/cmrmd wire the HTTP handler without every
// internal package importing prometheus/promhttp directly.
var Registry = prometheus.NewRegistry()

var (
	WakelockHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "wakelock",
		Name:      "held",
		Help:      "1 if the aggregate wakelock is currently held, 0 otherwise.",
	})

	EscalationLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "escalation",
		Name:      "level",
		Help:      "Current escalation ladder index (0=warm/cold, 1=reboot, 2=oos).",
	})

	EscalationRebootCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "escalation",
		Name:      "persisted_reboot_count",
		Help:      "Persisted platform-reboot counter.",
	})

	WatchdogAlive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "watchdog",
		Name:      "alive",
		Help:      "1 if the watchdog's supervised worker last answered its ping in time.",
	})

	ClaClientCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "cla",
		Name:      "client_count",
		Help:      "Number of currently connected clients.",
	})

	ClaState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "cla",
		Name:      "state",
		Help:      "Current CLA FSM state ordinal.",
	})

	CtrlState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "ctrl",
		Name:      "state",
		Help:      "Current CTRL FSM state ordinal.",
	})

	BridgeQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmrmd",
		Subsystem: "bridge",
		Name:      "queue_depth",
		Help:      "Number of host-bridge messages currently queued.",
	})

	BridgeMessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cmrmd",
		Subsystem: "bridge",
		Name:      "messages_dropped_total",
		Help:      "Host-bridge messages dropped after exhausting their retry budget.",
	})
)

func init() {
	Registry.MustRegister(
		WakelockHeld,
		EscalationLevel,
		EscalationRebootCount,
		WatchdogAlive,
		ClaClientCount,
		ClaState,
		CtrlState,
		BridgeQueueDepth,
		BridgeMessagesDropped,
	)
}
