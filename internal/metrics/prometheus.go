// Package metrics exposes the queuer's operational counters, gauges, and
// histograms through a Prometheus registry. Every metric is scoped to the
// scheduler's own concerns — VM lifecycle, queue depth, dispatch latency,
// provisioning outcomes — there is no invocation/runtime/cold-start
// vocabulary here, because this process never executes workloads itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for the judge queuer.
type Metrics struct {
	registry *prometheus.Registry

	// VM lifecycle
	vmsCreated    *prometheus.CounterVec
	vmsDestroyed  *prometheus.CounterVec
	vmsMarkedDead *prometheus.CounterVec
	vmsProvisionTimeouts *prometheus.CounterVec
	vmsTooSmall   *prometheus.CounterVec
	idleEvictions *prometheus.CounterVec

	// Queue / dispatch
	queueDepth      *prometheus.GaugeVec
	liveWorkers     *prometheus.GaugeVec
	dormantWorkers  *prometheus.GaugeVec
	dispatchLatency *prometheus.HistogramVec
	provisionLatency *prometheus.HistogramVec

	// Requests
	requestsSubmitted *prometheus.CounterVec
	requestsCompleted *prometheus.CounterVec

	// Runner registry
	runnerConnects    *prometheus.CounterVec
	runnerDuplicates  *prometheus.CounterVec
}

// defaultLatencyBuckets covers dispatch latency in seconds, from
// sub-millisecond (warm VM, already-live) out to the multi-minute tail of a
// cold provision.
var defaultLatencyBuckets = []float64{.001, .005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600}

var current *Metrics

// Init builds the registry and all collectors under namespace and installs
// them as the package-level instance returned by subsequent recorder calls.
// Safe to call once at daemon startup; a nil buckets slice falls back to
// defaultLatencyBuckets.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		vmsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vms_created_total",
				Help:      "Total VMs provisioned, by machine profile",
			},
			[]string{"profile"},
		),

		vmsDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vms_destroyed_total",
				Help:      "Total VMs deleted, by machine profile and reason",
			},
			[]string{"profile", "reason"}, // reason: idle_evicted, health_check_failed
		),

		vmsMarkedDead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vms_marked_dead_total",
				Help:      "Total workers transitioned to dead by a failed health check or a provisioning timeout",
			},
			[]string{"profile"},
		),

		vmsProvisionTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vm_provision_timeouts_total",
				Help:      "Total provisioning attempts that never saw a runner connect in time",
			},
			[]string{"profile"},
		),

		vmsTooSmall: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vm_too_small_total",
				Help:      "Total provisioned VMs rejected as too small after overhead accounting",
			},
			[]string{"profile"},
		),

		idleEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_evictions_total",
				Help:      "Total VMs torn down for exceeding the idle time budget",
			},
			[]string{"profile"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current count of unplaced requests waiting on a manager, by machine profile",
			},
			[]string{"profile"},
		),

		liveWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_workers",
				Help:      "Current count of workers with a connected runner, by machine profile",
			},
			[]string{"profile"},
		),

		dormantWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dormant_workers",
				Help:      "Current count of workers awaiting a runner connection, by machine profile",
			},
			[]string{"profile"},
		),

		dispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_latency_seconds",
				Help:      "Time spent placing a dequeued request on a worker",
				Buckets:   buckets,
			},
			[]string{"profile", "placement"}, // placement: live, dormant
		),

		provisionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_latency_seconds",
				Help:      "Time from VMSS capacity growth to runner connect",
				Buckets:   buckets,
			},
			[]string{"profile"},
		),

		requestsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_submitted_total",
				Help:      "Total judge requests submitted, by machine profile",
			},
			[]string{"profile"},
		),

		requestsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_completed_total",
				Help:      "Total judge requests completed, by machine profile and outcome",
			},
			[]string{"profile", "outcome"}, // outcome: success, error
		),

		runnerConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_connects_total",
				Help:      "Total runner registry registrations, by machine name",
			},
			[]string{"machine_name"},
		),

		runnerDuplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runner_duplicate_connects_total",
				Help:      "Total runner connects rejected because the machine name was already registered, by machine name",
			},
			[]string{"machine_name"},
		),
	}

	registry.MustRegister(
		m.vmsCreated, m.vmsDestroyed, m.vmsMarkedDead, m.vmsProvisionTimeouts, m.vmsTooSmall,
		m.idleEvictions, m.queueDepth, m.liveWorkers, m.dormantWorkers, m.dispatchLatency,
		m.provisionLatency, m.requestsSubmitted, m.requestsCompleted, m.runnerConnects,
		m.runnerDuplicates,
	)

	current = m
}

// RecordVMCreated increments the VM-created counter for profile.
func RecordVMCreated(profile string) {
	if current == nil {
		return
	}
	current.vmsCreated.WithLabelValues(profile).Inc()
}

// RecordVMDestroyed increments the VM-destroyed counter for profile and reason.
func RecordVMDestroyed(profile, reason string) {
	if current == nil {
		return
	}
	current.vmsDestroyed.WithLabelValues(profile, reason).Inc()
}

// RecordVMMarkedDead increments the dead-worker counter for profile.
func RecordVMMarkedDead(profile string) {
	if current == nil {
		return
	}
	current.vmsMarkedDead.WithLabelValues(profile).Inc()
}

// RecordProvisionTimeout increments the provision-timeout counter for profile.
func RecordProvisionTimeout(profile string) {
	if current == nil {
		return
	}
	current.vmsProvisionTimeouts.WithLabelValues(profile).Inc()
}

// RecordVMTooSmall increments the VM-too-small counter for profile.
func RecordVMTooSmall(profile string) {
	if current == nil {
		return
	}
	current.vmsTooSmall.WithLabelValues(profile).Inc()
}

// RecordIdleEviction increments the idle-eviction counter for profile.
func RecordIdleEviction(profile string) {
	if current == nil {
		return
	}
	current.idleEvictions.WithLabelValues(profile).Inc()
}

// SetQueueDepth sets the current queue depth gauge for profile.
func SetQueueDepth(profile string, depth int) {
	if current == nil {
		return
	}
	current.queueDepth.WithLabelValues(profile).Set(float64(depth))
}

// SetLiveWorkers sets the current live-worker gauge for profile.
func SetLiveWorkers(profile string, count int) {
	if current == nil {
		return
	}
	current.liveWorkers.WithLabelValues(profile).Set(float64(count))
}

// SetDormantWorkers sets the current dormant-worker gauge for profile.
func SetDormantWorkers(profile string, count int) {
	if current == nil {
		return
	}
	current.dormantWorkers.WithLabelValues(profile).Set(float64(count))
}

// ObserveDispatchLatency records the seconds a manager's placement passes
// took for a request placed onto a live or dormant worker.
func ObserveDispatchLatency(profile, placement string, seconds float64) {
	if current == nil {
		return
	}
	current.dispatchLatency.WithLabelValues(profile, placement).Observe(seconds)
}

// ObserveProvisionLatency records the seconds elapsed between a capacity
// grow and the corresponding runner connect.
func ObserveProvisionLatency(profile string, seconds float64) {
	if current == nil {
		return
	}
	current.provisionLatency.WithLabelValues(profile).Observe(seconds)
}

// RecordRequestSubmitted increments the submitted-request counter for profile.
func RecordRequestSubmitted(profile string) {
	if current == nil {
		return
	}
	current.requestsSubmitted.WithLabelValues(profile).Inc()
}

// RecordRequestCompleted increments the completed-request counter for
// profile and outcome ("success" or "error").
func RecordRequestCompleted(profile, outcome string) {
	if current == nil {
		return
	}
	current.requestsCompleted.WithLabelValues(profile, outcome).Inc()
}

// RecordRunnerConnect increments the runner-connect counter for machineName.
func RecordRunnerConnect(machineName string) {
	if current == nil {
		return
	}
	current.runnerConnects.WithLabelValues(machineName).Inc()
}

// RecordRunnerDuplicate increments the duplicate-connect counter for machineName.
func RecordRunnerDuplicate(machineName string) {
	if current == nil {
		return
	}
	current.runnerDuplicates.WithLabelValues(machineName).Inc()
}

// Handler returns an HTTP handler serving the metrics registry for scraping.
// Before Init is called it serves 503s rather than panicking, so the daemon
// can mount the route before metrics are initialized.
func Handler() http.Handler {
	if current == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{})
}

// Registry returns the active prometheus registry, or nil before Init.
func Registry() *prometheus.Registry {
	if current == nil {
		return nil
	}
	return current.registry
}
