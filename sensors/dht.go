package sensors

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MichaelS11/go-dht"
)

// DHT reads temperature and humidity from a DHT11 or DHT22 on a GPIO pin.
// Both values come from the same transfer, so they are returned together.
type DHT struct {
	Pin     string
	Model   string
	Retries int
	Dht     *dht.DHT
}

func NewDHT(pin, model string, retries int) (*DHT, error) {
	model = strings.ToLower(model)
	if model != "dht11" && model != "dht22" {
		return nil, fmt.Errorf("unsupported DHT model %q", model)
	}
	if err := dht.HostInit(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	d := &DHT{
		Pin:     pin,
		Model:   model,
		Retries: retries,
	}

	var err error
	d.Dht, err = dht.NewDHT(pin, dht.Celsius, model)
	if err != nil {
		return nil, fmt.Errorf("open %s on %s: %w", model, pin, err)
	}

	return d, nil
}

func (d *DHT) Name() string {
	return strings.ToUpper(d.Model)
}

func (d *DHT) Read(ctx context.Context) (*SensorData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	humidity, temperature, err := d.Dht.ReadRetry(d.Retries)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, d.Name(), err)
	}

	return &SensorData{
		SensorType: d.Model,
		Fields: map[string]float64{
			FieldTemperature: finiteOrNaN(temperature),
			FieldHumidity:    finiteOrNaN(humidity),
		},
		Timestamp: time.Now(),
	}, nil
}

func finiteOrNaN(v float64) float64 {
	if math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
