package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/hommie-node/config"
	"github.com/Uranury/hommie-node/sensors"
)

func testConfig(profile string) *config.Config {
	cfg := &config.Config{}
	cfg.Device.UID = "1X"
	cfg.Device.Location = "Living Room"
	cfg.Device.Profile = profile
	cfg.Sensors.DHT.Type = "dht11"
	cfg.Sensors.DHT.Retries = 1
	cfg.Sensors.Current.Samples = 200
	cfg.Sensors.Current.Calibration = 111.1
	cfg.Sensors.Current.SupplyMillivolts = 4096
	cfg.Sensors.Current.ADCBits = 15
	cfg.Sensors.Current.Voltage = 230
	return cfg
}

func TestBuildLayoutClimate(t *testing.T) {
	cfg := testConfig(config.ProfileClimate)
	l, err := buildLayout(cfg, simulatedHardware(cfg), time.Unix(0, 0))
	require.NoError(t, err)

	reports := l.state.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "DHT11-Temp", reports[0].Name())
	assert.Equal(t, 24.7, reports[0].Value())
	assert.Equal(t, "/Living Room/temperature", reports[0].Path())
	assert.Equal(t, "DHT11-Hum", reports[1].Name())
	assert.Equal(t, 60.0, reports[1].Value())
	assert.Equal(t, "/Living Room/humidity", reports[1].Path())

	require.Len(t, l.sources, 1)
	assert.Equal(t, "SIM-dht11", l.sources[0].Sensor.Name())
	assert.Equal(t, sensors.FieldTemperature, l.sources[0].Bindings[0].Field)
	assert.Equal(t, sensors.FieldHumidity, l.sources[0].Bindings[1].Field)
}

func TestBuildLayoutEnergy(t *testing.T) {
	cfg := testConfig(config.ProfileEnergy)
	l, err := buildLayout(cfg, simulatedHardware(cfg), time.Unix(0, 0))
	require.NoError(t, err)
	defer l.close()

	reports := l.state.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, "CT-Energy", reports[2].Name())
	assert.Equal(t, "/Living Room/energy", reports[2].Path())
	assert.Equal(t, 0.0, reports[2].Value())

	require.Len(t, l.sources, 2)
	assert.Equal(t, "CT", l.sources[1].Sensor.Name())
	assert.Equal(t, sensors.FieldPower, l.sources[1].Bindings[0].Field)
}

func TestBuildLayoutCurrentOnly(t *testing.T) {
	cfg := testConfig(config.ProfileCurrent)
	l, err := buildLayout(cfg, simulatedHardware(cfg), time.Unix(0, 0))
	require.NoError(t, err)

	require.Len(t, l.state.Reports(), 1)
	require.Len(t, l.sources, 1)
}

func TestBuildLayoutClosesADCOnSensorError(t *testing.T) {
	cfg := testConfig(config.ProfileCurrent)
	cfg.Sensors.Current.Samples = 0

	closed := false
	hw := simulatedHardware(cfg)
	hw.openADC = func(string, uint16, int, float64) (sensors.Sampler, func() error, error) {
		return &sensors.SineSampler{Bias: 100, Amplitude: 10, SamplesPerPeriod: 20}, func() error {
			closed = true
			return nil
		}, nil
	}

	_, err := buildLayout(cfg, hw, time.Now())
	require.Error(t, err)
	assert.True(t, closed)
}

func TestBuildLayoutDHTError(t *testing.T) {
	cfg := testConfig(config.ProfileClimate)
	hw := simulatedHardware(cfg)
	hw.openDHT = func(string, string, int) (sensors.Sensor, error) {
		return nil, errors.New("no gpio")
	}

	_, err := buildLayout(cfg, hw, time.Now())
	assert.ErrorContains(t, err, "no gpio")
}

func TestProbeHost(t *testing.T) {
	assert.Equal(t, "smart-hommie-default-rtdb.firebaseio.com",
		probeHost("https://smart-hommie-default-rtdb.firebaseio.com"))
	assert.Equal(t, "", probeHost("::bad"))
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger("loud", nil)
	assert.Error(t, err)

	logger, err := NewLogger("debug", []string{"stderr"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
