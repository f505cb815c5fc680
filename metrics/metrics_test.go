package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Uranury/hommie-node/report"
)

func TestObserverUpdatesInstruments(t *testing.T) {
	m := New(prometheus.NewRegistry())
	p := report.Payload{DeviceUID: "1X", Type: "Temperature", Location: "Living Room", Value: 24.7}

	m.CycleStarted("c1", time.Unix(1700000000, 0))
	m.Written("firebase", "/Living Room/temperature", p, nil)
	m.Written("mqtt", "/Living Room/temperature", p, errors.New("offline"))
	m.ReadFailed("DHT11", errors.New("nan"))
	m.ReadFailed("DHT11", errors.New("nan"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastCycle))
	assert.Equal(t, 24.7, testutil.ToFloat64(m.readingValue.WithLabelValues("1X", "Living Room", "Temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkWrites.WithLabelValues("firebase", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkWrites.WithLabelValues("mqtt", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sensorFailures.WithLabelValues("DHT11")))
}

func TestFailedWriteLeavesGaugeAlone(t *testing.T) {
	m := New(prometheus.NewRegistry())
	p := report.Payload{DeviceUID: "1X", Type: "Humidity", Location: "Living Room", Value: 60}

	m.Written("firebase", "/Living Room/humidity", p, nil)
	p.Value = 99
	m.Written("firebase", "/Living Room/humidity", p, errors.New("Permission denied"))

	assert.Equal(t, 60.0, testutil.ToFloat64(m.readingValue.WithLabelValues("1X", "Living Room", "Humidity")))
}

func TestNewRegistryGathers(t *testing.T) {
	reg := NewRegistry()
	New(reg)
	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
