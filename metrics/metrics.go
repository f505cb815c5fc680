package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Uranury/hommie-node/report"
)

type Metrics struct {
	readingValue   *prometheus.GaugeVec
	lastCycle      prometheus.Gauge
	cycles         prometheus.Counter
	sinkWrites     *prometheus.CounterVec
	sensorFailures *prometheus.CounterVec
}

// NewRegistry returns a non-global registry with the build and runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readingValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reading_value",
				Help: "Last published value of a reading.",
			},
			[]string{"device", "location", "type"}),
		lastCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "publish_last_cycle_timestamp_seconds",
				Help: "Unix time of the last publish cycle.",
			}),
		cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "publish_cycles_total",
				Help: "Publish cycles started.",
			}),
		sinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_writes_total",
				Help: "Writes per sink by result.",
			},
			[]string{"sink", "result"}),
		sensorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_read_failures_total",
				Help: "Sensor reads that produced no usable value.",
			},
			[]string{"sensor"}),
	}
	reg.MustRegister(m.readingValue)
	reg.MustRegister(m.lastCycle)
	reg.MustRegister(m.cycles)
	reg.MustRegister(m.sinkWrites)
	reg.MustRegister(m.sensorFailures)
	return m
}

func (m *Metrics) CycleStarted(_ string, at time.Time) {
	m.cycles.Inc()
	m.lastCycle.Set(float64(at.Unix()))
}

func (m *Metrics) ReadFailed(sensor string, _ error) {
	m.sensorFailures.WithLabelValues(sensor).Inc()
}

func (m *Metrics) Written(sink, _ string, p report.Payload, err error) {
	if err != nil {
		m.sinkWrites.WithLabelValues(sink, "failed").Inc()
		return
	}
	m.sinkWrites.WithLabelValues(sink, "passed").Inc()
	m.readingValue.WithLabelValues(p.DeviceUID, p.Location, p.Type).Set(p.Value)
}
