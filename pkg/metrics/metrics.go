// Package metrics defines counters for update session activity.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts session, install and mount activity.
type Metrics interface {
	IncSessionStarted()
	IncSessionFinished(outcome string)
	IncInstall(status string)
	IncMountFailure()
	IncUnmountFailure()
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncSessionStarted()        {}
func (Noop) IncSessionFinished(string) {}
func (Noop) IncInstall(string)         {}
func (Noop) IncMountFailure()          {}
func (Noop) IncUnmountFailure()        {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	installs         *prometheus.CounterVec
	mountFailures    prometheus.Counter
	unmountFailures  prometheus.Counter
	once             sync.Once
}

// NewProm constructs registered Prometheus counters under a namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Update sessions started",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Update sessions finished by outcome",
		}, []string{"outcome"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Bundle installations by status",
		}, []string{"status"}),
		mountFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mount_failures_total",
			Help:      "Devices that could not be mounted",
		}),
		unmountFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmount_failures_total",
			Help:      "Devices that could not be unmounted",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.sessionsStarted,
			p.sessionsFinished,
			p.installs,
			p.mountFailures,
			p.unmountFailures,
		)
	})
}

func (p *Prom) IncSessionStarted() {
	p.sessionsStarted.Inc()
}

func (p *Prom) IncSessionFinished(outcome string) {
	p.sessionsFinished.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncInstall(status string) {
	p.installs.WithLabelValues(status).Inc()
}

func (p *Prom) IncMountFailure() {
	p.mountFailures.Inc()
}

func (p *Prom) IncUnmountFailure() {
	p.unmountFailures.Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
