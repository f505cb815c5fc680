package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Uranury/hommie-node/config"
	"github.com/Uranury/hommie-node/report"
	"github.com/Uranury/hommie-node/scheduler"
	"github.com/Uranury/hommie-node/sensors"
)

// Placeholder values published until the first successful read.
const (
	initialTemperature = 24.7
	initialHumidity    = 60
	initialEnergy      = 0
)

// hardware opens the physical sensors; tests swap it for simulated ones.
type hardware struct {
	openDHT func(pin, model string, retries int) (sensors.Sensor, error)
	openADC func(bus string, address uint16, channel int, fullScaleMillivolts float64) (sensors.Sampler, func() error, error)
}

var realHardware = hardware{
	openDHT: func(pin, model string, retries int) (sensors.Sensor, error) {
		return sensors.NewDHT(pin, model, retries)
	},
	openADC: func(bus string, address uint16, channel int, fullScaleMillivolts float64) (sensors.Sampler, func() error, error) {
		adc, err := sensors.OpenADS1115(bus, address, channel, fullScaleMillivolts)
		if err != nil {
			return nil, nil, err
		}
		return adc, adc.Close, nil
	},
}

func simulatedHardware(cfg *config.Config) hardware {
	return hardware{
		openDHT: func(_, model string, _ int) (sensors.Sensor, error) {
			return &sensors.SimulatedDHT{Model: model, FailEvery: 7}, nil
		},
		openADC: func(string, uint16, int, float64) (sensors.Sampler, func() error, error) {
			bias := 1 << (cfg.Sensors.Current.ADCBits - 1)
			return &sensors.SineSampler{
				Bias:             bias,
				Amplitude:        float64(bias) / 8,
				SamplesPerPeriod: 40,
				Noise:            4,
			}, func() error { return nil }, nil
		},
	}
}

// layout is the set of reports a node publishes and the sensors feeding them.
type layout struct {
	state   *report.State
	sources []scheduler.Source
	closers []func() error
}

func buildLayout(cfg *config.Config, hw hardware, start time.Time) (*layout, error) {
	l := &layout{}
	var reports []*report.Report
	uid, location := cfg.Device.UID, cfg.Device.Location

	if cfg.UsesDHT() {
		model := strings.ToLower(cfg.Sensors.DHT.Type)
		dht, err := hw.openDHT(cfg.Sensors.DHT.Pin, model, cfg.Sensors.DHT.Retries)
		if err != nil {
			l.close()
			return nil, fmt.Errorf("dht sensor: %w", err)
		}
		prefix := strings.ToUpper(model)
		temp := report.New(uid, prefix+"-Temp", report.Temperature, location, initialTemperature)
		hum := report.New(uid, prefix+"-Hum", report.Humidity, location, initialHumidity)
		reports = append(reports, temp, hum)
		l.sources = append(l.sources, scheduler.Source{
			Sensor: dht,
			Bindings: []scheduler.Binding{
				{Report: temp, Field: sensors.FieldTemperature},
				{Report: hum, Field: sensors.FieldHumidity},
			},
		})
	}

	if cfg.UsesCurrent() {
		cur := cfg.Sensors.Current
		adc, closeADC, err := hw.openADC(cur.Bus, cur.Address, cur.Channel, cur.SupplyMillivolts)
		if err != nil {
			l.close()
			return nil, fmt.Errorf("current sensor adc: %w", err)
		}
		l.closers = append(l.closers, closeADC)

		ct, err := sensors.NewCurrentSensor(adc, sensors.CurrentConfig{
			Samples:          cur.Samples,
			Calibration:      cur.Calibration,
			SupplyMillivolts: cur.SupplyMillivolts,
			ADCBits:          cur.ADCBits,
			Voltage:          cur.Voltage,
		})
		if err != nil {
			l.close()
			return nil, fmt.Errorf("current sensor: %w", err)
		}
		energy := report.New(uid, "CT-Energy", report.Energy, location, initialEnergy)
		reports = append(reports, energy)
		l.sources = append(l.sources, scheduler.Source{
			Sensor:   ct,
			Bindings: []scheduler.Binding{{Report: energy, Field: sensors.FieldPower}},
		})
	}

	l.state = report.NewState(start, reports...)
	return l, nil
}

func (l *layout) close() error {
	var first error
	for _, c := range l.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
