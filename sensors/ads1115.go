package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

var adsChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// ADS1115 samples one single-ended channel of an ADS1115 over I2C.
type ADS1115 struct {
	bus i2c.BusCloser
	pin ads1x15.PinADC
}

// OpenADS1115 opens the I2C bus by name ("" selects the first bus) and
// configures the channel for the given full-scale range.
func OpenADS1115(busName string, address uint16, channel int, fullScaleMillivolts float64) (*ADS1115, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("invalid ADS1115 channel %d", channel)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	opts := ads1x15.DefaultOpts
	if address != 0 {
		opts.I2cAddress = address
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1115 at 0x%02x: %w", opts.I2cAddress, err)
	}

	fullScale := physic.ElectricPotential(fullScaleMillivolts) * physic.MilliVolt
	pin, err := dev.PinForChannel(adsChannels[channel], fullScale, 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}

	return &ADS1115{bus: bus, pin: pin}, nil
}

func (a *ADS1115) Sample() (int, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, err
	}
	return int(s.Raw), nil
}

func (a *ADS1115) Close() error {
	if err := a.pin.Halt(); err != nil {
		a.bus.Close()
		return err
	}
	return a.bus.Close()
}
