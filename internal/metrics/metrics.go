//nolint:gochecknoglobals // prometheus metrics and global state
package metrics

import (
	"errors"
	"strconv"
	"sync/atomic"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "bluetooth_events_total",
			Help: "Bluetooth events routed to the device registry (Counter). Labels: service, kind.",
		},
		[]string{"service", "kind"},
	)
	BondRequestsTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "bluetooth_bond_requests_total",
			Help: "Bond/unbond requests by outcome (Counter). op=bond|unbond, outcome=sent|error.",
		},
		[]string{"service", "op", "outcome"},
	)
	ScansTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "bluetooth_scans_total",
			Help: "Discovery scans requested by outcome (Counter). outcome=started|enable_requested|enable_declined|error.",
		},
		[]string{"service", "outcome"},
	)
	AdminRequestsTotal = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Admin HTTP requests handled (Counter). Labels: service, method, route, status.",
		},
		[]string{"service", "method", "route", "status"},
	)

	RegistryDevices = promauto.NewGaugeVec(
		prom.GaugeOpts{
			Name: "bluetooth_registry_devices",
			Help: "Devices currently listed in the registry (Gauge).",
		},
		[]string{"service"},
	)
	ScanningGauge = promauto.NewGaugeVec(
		prom.GaugeOpts{
			Name: "bluetooth_discovery_active",
			Help: "Discovery in progress: 1=scanning, 0=idle (Gauge).",
		},
		[]string{"service"},
	)
	ReadyGauge = promauto.NewGaugeVec(
		prom.GaugeOpts{
			Name: "service_ready",
			Help: "Service readiness: 1=ready, 0=not ready (Gauge).",
		},
		[]string{"service"},
	)
)

var readyFlag int32 //nolint:gochecknoglobals // service ready flag

var serviceName atomic.Value //nolint:gochecknoglobals // service name // string

// SetService sets the service label value (default: btscan).
func SetService(name string) { serviceName.Store(name) }

func Service() string {
	if v := serviceName.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}

	return "btscan"
}

// RegisterCollectors registers default Go and process collectors.
// Should be called once during program startup (e.g., in cmd).
func RegisterCollectors() {
	registerDefault(collectors.NewGoCollector())
	registerDefault(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func registerDefault(c prom.Collector) {
	if err := prom.Register(c); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
		// best-effort: ignore unexpected errors to avoid panics in init
	}
}

// RecordEvent counts a routed event.
func RecordEvent(kind string) {
	EventsTotal.WithLabelValues(Service(), kind).Inc()
}

// RecordBond counts a bond or unbond request outcome.
func RecordBond(op, outcome string) {
	BondRequestsTotal.WithLabelValues(Service(), op, outcome).Inc()
}

// RecordScan counts a scan request outcome.
func RecordScan(outcome string) {
	ScansTotal.WithLabelValues(Service(), outcome).Inc()
}

// SetRegistryDevices updates the registry size gauge.
func SetRegistryDevices(n int) {
	RegistryDevices.WithLabelValues(Service()).Set(float64(n))
}

// SetScanning updates the discovery gauge.
func SetScanning(v bool) {
	ScanningGauge.WithLabelValues(Service()).Set(boolToFloat(v))
}

// RecordHTTP increments admin HTTP requests with OTEL-style labels.
func RecordHTTP(method, route string, status int) {
	AdminRequestsTotal.WithLabelValues(Service(), method, route, strconv.Itoa(status)).Inc()
}

// SetReady sets readiness and updates the gauge.
func SetReady(v bool) {
	if v {
		atomic.StoreInt32(&readyFlag, 1)
	} else {
		atomic.StoreInt32(&readyFlag, 0)
	}

	ReadyGauge.WithLabelValues(Service()).Set(boolToFloat(v))
}

// IsReady returns current readiness flag.
func IsReady() bool { return atomic.LoadInt32(&readyFlag) == 1 }

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}

	return 0
}

// Stats represents a lightweight analytics snapshot for the admin API.
type Stats struct {
	EventsTotal       float64            `json:"events_total"`
	EventsByKind      map[string]float64 `json:"events_by_kind"`
	BondRequestsTotal float64            `json:"bond_requests_total"`
	BondErrorsTotal   float64            `json:"bond_errors_total"`
	ScansTotal        float64            `json:"scans_total"`
	RegistryDevices   float64            `json:"registry_devices"`
	Scanning          float64            `json:"scanning"`
	ServiceReady      float64            `json:"service_ready"`
}

// GatherStats collects basic stats from the default registry for a given service label.
func GatherStats(service string) (Stats, error) { //nolint:cyclop
	mfs, err := prom.DefaultGatherer.Gather()
	if err != nil {
		return Stats{}, err
	}

	s := Stats{EventsByKind: map[string]float64{}}

	withService := func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "service" && lp.GetValue() == service {
				return true
			}
		}

		return false
	}

	label := func(m *dto.Metric, name string) string {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name {
				return lp.GetValue()
			}
		}

		return ""
	}

	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if !withService(m) {
				continue
			}

			switch mf.GetName() {
			case "bluetooth_events_total":
				v := m.GetCounter().GetValue()
				s.EventsTotal += v
				s.EventsByKind[label(m, "kind")] += v
			case "bluetooth_bond_requests_total":
				v := m.GetCounter().GetValue()
				s.BondRequestsTotal += v

				if label(m, "outcome") == "error" {
					s.BondErrorsTotal += v
				}
			case "bluetooth_scans_total":
				s.ScansTotal += m.GetCounter().GetValue()
			case "bluetooth_registry_devices":
				s.RegistryDevices = m.GetGauge().GetValue()
			case "bluetooth_discovery_active":
				s.Scanning = m.GetGauge().GetValue()
			case "service_ready":
				s.ServiceReady = m.GetGauge().GetValue()
			}
		}
	}

	return s, nil
}
