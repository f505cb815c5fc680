package sensors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Sampler returns one raw ADC conversion.
type Sampler interface {
	Sample() (int, error)
}

// CurrentConfig describes the current transformer front-end.
type CurrentConfig struct {
	Samples          int     // conversions per RMS window
	Calibration      float64 // ICAL: CT ratio divided by burden resistance
	SupplyMillivolts float64 // ADC full-scale voltage
	ADCBits          int
	Voltage          float64 // nominal mains voltage used to derive power
}

// DefaultCurrentConfig matches an SCT-013-000 with an 18 ohm burden on a
// single-ended ADS1115 channel.
var DefaultCurrentConfig = CurrentConfig{
	Samples:          1480,
	Calibration:      111.1,
	SupplyMillivolts: 4096,
	ADCBits:          15,
	Voltage:          230,
}

// CurrentSensor computes RMS current over a window of ADC samples. The DC
// bias of the analog front-end is tracked with a digital low-pass filter
// that persists between windows.
type CurrentSensor struct {
	cfg    CurrentConfig
	adc    Sampler
	counts float64
	offset float64
}

func NewCurrentSensor(adc Sampler, cfg CurrentConfig) (*CurrentSensor, error) {
	if adc == nil {
		return nil, errors.New("current sensor needs an ADC sampler")
	}
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("invalid sample window %d", cfg.Samples)
	}
	if cfg.ADCBits <= 0 || cfg.ADCBits > 24 {
		return nil, fmt.Errorf("invalid ADC resolution %d bits", cfg.ADCBits)
	}
	counts := float64(int(1) << cfg.ADCBits)
	return &CurrentSensor{
		cfg:    cfg,
		adc:    adc,
		counts: counts,
		offset: counts / 2,
	}, nil
}

func (c *CurrentSensor) Name() string {
	return "CT"
}

// Irms samples the configured window and returns RMS current in amperes.
func (c *CurrentSensor) Irms(ctx context.Context) (float64, error) {
	var sum float64
	for n := 0; n < c.cfg.Samples; n++ {
		if n%64 == 0 {
			if err := ctx.Err(); err != nil {
				return math.NaN(), err
			}
		}
		raw, err := c.adc.Sample()
		if err != nil {
			return math.NaN(), fmt.Errorf("%w: adc sample %d: %v", ErrUnavailable, n, err)
		}
		sample := float64(raw)
		c.offset += (sample - c.offset) / c.counts
		filtered := sample - c.offset
		sum += filtered * filtered
	}

	ratio := c.cfg.Calibration * ((c.cfg.SupplyMillivolts / 1000.0) / c.counts)
	return ratio * math.Sqrt(sum/float64(c.cfg.Samples)), nil
}

func (c *CurrentSensor) Read(ctx context.Context) (*SensorData, error) {
	irms, err := c.Irms(ctx)
	if err != nil {
		return nil, err
	}
	return &SensorData{
		SensorType: "ct",
		Fields: map[string]float64{
			FieldCurrent: irms,
			FieldPower:   irms * c.cfg.Voltage,
		},
		Timestamp: time.Now(),
	}, nil
}

// ADCCounts is the number of distinct codes at the configured resolution.
func (c *CurrentSensor) ADCCounts() float64 {
	return c.counts
}
