package sensors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SimulatedDHT stands in for a DHT when no GPIO is available.
// FailEvery > 0 makes every n-th read report NaN temperature, the way a
// DHT11 drops a checksum now and then.
type SimulatedDHT struct {
	Model     string
	FailEvery int

	reads int
}

func (s *SimulatedDHT) Name() string {
	return "SIM-" + s.Model
}

func (s *SimulatedDHT) Read(ctx context.Context) (*SensorData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.reads++

	temperature := 20.0 + rand.Float64()*10.0
	humidity := 40.0 + rand.Float64()*40.0
	if s.FailEvery > 0 && s.reads%s.FailEvery == 0 {
		temperature = math.NaN()
	}

	return &SensorData{
		SensorType: s.Model,
		Fields: map[string]float64{
			FieldTemperature: temperature,
			FieldHumidity:    humidity,
		},
		Timestamp: time.Now(),
	}, nil
}

// SineSampler produces a biased sine wave like a CT clamp on a resistive
// load would, plus optional uniform noise.
type SineSampler struct {
	Bias             int     // mid-rail code
	Amplitude        float64 // peak in ADC codes
	SamplesPerPeriod int
	Noise            float64

	n int
}

func (s *SineSampler) Sample() (int, error) {
	period := s.SamplesPerPeriod
	if period <= 0 {
		period = 20
	}
	phase := 2 * math.Pi * float64(s.n%period) / float64(period)
	s.n++

	v := float64(s.Bias) + s.Amplitude*math.Sin(phase)
	if s.Noise > 0 {
		v += (rand.Float64()*2 - 1) * s.Noise
	}
	return int(math.Round(v)), nil
}
