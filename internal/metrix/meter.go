// Package metrix implements stats-related functionality.
package metrix

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New initializes and returns a new [Meter].
func New() (m *Meter) {
	initializedAt := time.Now()

	m = &Meter{
		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts(opts(
				"",
				"uptime_seconds",
				"Number of seconds since service start",
			)),
			func() float64 {
				return float64(time.Since(initializedAt) / time.Second)
			},
		),
		x509Signed: newCounterVec("x509", "signed_total", "Number of X.509 certificates signed",
			"kind",
			"success",
		),
		sshSigned: newCounterVec("ssh", "signed_total", "Number of SSH certificates signed",
			"kind",
			"success",
		),
		hierarchiesBuilt: newCounterVec("hierarchy", "built_total", "Number of CA hierarchies built",
			"scope",
			"success",
		),
	}

	reg := prometheus.NewRegistry()

	reg.MustRegister(
		m.uptime,
		m.x509Signed,
		m.sshSigned,
		m.hierarchiesBuilt,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:            reg,
		Timeout:             5 * time.Second,
		MaxRequestsInFlight: 10,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	m.Handler = mux

	return
}

// Meter wraps the functionality of a Prometheus-compatible HTTP handler.
type Meter struct {
	http.Handler

	uptime           prometheus.GaugeFunc
	x509Signed       *prometheus.CounterVec
	sshSigned        *prometheus.CounterVec
	hierarchiesBuilt *prometheus.CounterVec
}

// X509Signed implements [authority.Meter] for [Meter].
func (m *Meter) X509Signed(kind string, success bool) {
	incrCounter(m.x509Signed, kind, success)
}

// SSHSigned implements [authority.Meter] for [Meter].
func (m *Meter) SSHSigned(kind string, success bool) {
	incrCounter(m.sshSigned, kind, success)
}

// HierarchyBuilt implements [authority.Meter] for [Meter].
func (m *Meter) HierarchyBuilt(scope string, success bool) {
	incrCounter(m.hierarchiesBuilt, scope, success)
}

func incrCounter(cv *prometheus.CounterVec, label string, success bool) {
	cv.WithLabelValues(label, strconv.FormatBool(success)).Inc()
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	opts := opts(subsystem, name, help)

	return prometheus.NewCounterVec(prometheus.CounterOpts(opts), labels)
}

func opts(subsystem, name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: "cacore",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}
}
