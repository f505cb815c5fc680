package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Profiles select which sensors a node carries.
const (
	ProfileClimate = "climate" // DHT temperature and humidity
	ProfileEnergy  = "energy"  // DHT plus current transformer
	ProfileCurrent = "current" // current transformer only
)

type Config struct {
	Device struct {
		UID      string `mapstructure:"uid"`
		Location string `mapstructure:"location"`
		Profile  string `mapstructure:"profile"`
	} `mapstructure:"device"`
	WiFi struct {
		SSID      string `mapstructure:"ssid"`
		Password  string `mapstructure:"password"`
		Interface string `mapstructure:"interface"`
	} `mapstructure:"wifi"`
	Network struct {
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		Skip           bool          `mapstructure:"skip"`
	} `mapstructure:"network"`
	Backend struct {
		APIKey             string        `mapstructure:"api_key"`
		DatabaseURL        string        `mapstructure:"database_url"`
		WriteTimeout       time.Duration `mapstructure:"write_timeout"`
		TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin"`
	} `mapstructure:"backend"`
	Sensors struct {
		Simulate bool `mapstructure:"simulate"`
		DHT      struct {
			Pin     string `mapstructure:"pin"`
			Type    string `mapstructure:"type"`
			Retries int    `mapstructure:"retries"`
		} `mapstructure:"dht"`
		Current struct {
			Bus              string  `mapstructure:"bus"`
			Address          uint16  `mapstructure:"address"`
			Channel          int     `mapstructure:"channel"`
			Samples          int     `mapstructure:"samples"`
			Calibration      float64 `mapstructure:"calibration"`
			SupplyMillivolts float64 `mapstructure:"supply_mv"`
			ADCBits          int     `mapstructure:"adc_bits"`
			Voltage          float64 `mapstructure:"voltage"`
		} `mapstructure:"current"`
	} `mapstructure:"sensors"`
	Scheduler struct {
		Interval    time.Duration `mapstructure:"interval"`
		PollPeriod  time.Duration `mapstructure:"poll_period"`
		RefreshMode string        `mapstructure:"refresh_mode"`
	} `mapstructure:"scheduler"`
	Influx struct {
		Enabled     bool   `mapstructure:"enabled"`
		URL         string `mapstructure:"url"`
		Token       string `mapstructure:"token"`
		Org         string `mapstructure:"org"`
		Bucket      string `mapstructure:"bucket"`
		Measurement string `mapstructure:"measurement"`
	} `mapstructure:"influx"`
	MQTT struct {
		Enabled     bool          `mapstructure:"enabled"`
		Broker      string        `mapstructure:"broker"`
		ClientID    string        `mapstructure:"client_id"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		TopicPrefix string        `mapstructure:"topic_prefix"`
		QoS         int           `mapstructure:"qos"`
		Retained    bool          `mapstructure:"retained"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"mqtt"`
	Status struct {
		Enabled        bool     `mapstructure:"enabled"`
		Addr           string   `mapstructure:"addr"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"status"`
	Log struct {
		Level       string   `mapstructure:"level"`
		OutputPaths []string `mapstructure:"output_paths"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.uid", "1X")
	v.SetDefault("device.location", "Living Room")
	v.SetDefault("device.profile", ProfileClimate)
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.interface", "")
	v.SetDefault("network.connect_timeout", time.Minute)
	v.SetDefault("network.skip", false)
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.database_url", "")
	v.SetDefault("backend.write_timeout", 5*time.Second)
	v.SetDefault("backend.token_refresh_margin", 5*time.Minute)
	v.SetDefault("sensors.simulate", false)
	v.SetDefault("sensors.dht.pin", "GPIO25")
	v.SetDefault("sensors.dht.type", "dht11")
	v.SetDefault("sensors.dht.retries", 3)
	v.SetDefault("sensors.current.bus", "")
	v.SetDefault("sensors.current.address", 0x48)
	v.SetDefault("sensors.current.channel", 0)
	v.SetDefault("sensors.current.samples", 1480)
	v.SetDefault("sensors.current.calibration", 111.1)
	v.SetDefault("sensors.current.supply_mv", 4096)
	v.SetDefault("sensors.current.adc_bits", 15)
	v.SetDefault("sensors.current.voltage", 230)
	// 0 picks the profile's interval
	v.SetDefault("scheduler.interval", 0)
	v.SetDefault("scheduler.poll_period", 100*time.Millisecond)
	v.SetDefault("scheduler.refresh_mode", "unit")
	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.measurement", "reading")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "hommie")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retained", false)
	v.SetDefault("mqtt.timeout", 10*time.Second)
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8080")
	v.SetDefault("status.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads .env, then the yaml file at path (a missing file falls back to
// defaults), then HOMMIE_* environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("hommie")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := v.ReadConfig(bytes.NewBuffer(data)); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProfileDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyProfileDefaults() {
	c.Device.Profile = strings.ToLower(c.Device.Profile)
	if c.Scheduler.Interval <= 0 {
		if c.Device.Profile == ProfileCurrent {
			c.Scheduler.Interval = time.Second
		} else {
			c.Scheduler.Interval = 10 * time.Second
		}
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hommie-" + c.Device.UID
	}
}

// UsesDHT reports whether the profile carries a DHT sensor.
func (c *Config) UsesDHT() bool {
	return c.Device.Profile == ProfileClimate || c.Device.Profile == ProfileEnergy
}

// UsesCurrent reports whether the profile carries a current transformer.
func (c *Config) UsesCurrent() bool {
	return c.Device.Profile == ProfileEnergy || c.Device.Profile == ProfileCurrent
}

func (c *Config) Validate() error {
	var errs []error
	if c.Device.UID == "" {
		errs = append(errs, errors.New("device.uid is required"))
	}
	if c.Device.Location == "" {
		errs = append(errs, errors.New("device.location is required"))
	} else if strings.Contains(c.Device.Location, "/") {
		errs = append(errs, errors.New("device.location must not contain '/'"))
	}
	switch c.Device.Profile {
	case ProfileClimate, ProfileEnergy, ProfileCurrent:
	default:
		errs = append(errs, fmt.Errorf("device.profile %q is not one of climate, energy, current", c.Device.Profile))
	}
	if c.Backend.APIKey == "" {
		errs = append(errs, errors.New("backend.api_key is required"))
	}
	if c.Backend.DatabaseURL == "" {
		errs = append(errs, errors.New("backend.database_url is required"))
	}
	if c.Backend.WriteTimeout <= 0 {
		errs = append(errs, errors.New("backend.write_timeout must be positive"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.PollPeriod <= 0 {
		errs = append(errs, errors.New("scheduler.poll_period must be positive"))
	}
	switch strings.ToLower(c.Scheduler.RefreshMode) {
	case "unit", "independent":
	default:
		errs = append(errs, fmt.Errorf("scheduler.refresh_mode %q is not unit or independent", c.Scheduler.RefreshMode))
	}
	if c.UsesDHT() {
		switch strings.ToLower(c.Sensors.DHT.Type) {
		case "dht11", "dht22":
		default:
			errs = append(errs, fmt.Errorf("sensors.dht.type %q is not dht11 or dht22", c.Sensors.DHT.Type))
		}
	}
	if c.UsesCurrent() {
		cur := c.Sensors.Current
		if cur.Samples <= 0 {
			errs = append(errs, errors.New("sensors.current.samples must be positive"))
		}
		if cur.Channel < 0 || cur.Channel > 3 {
			errs = append(errs, fmt.Errorf("sensors.current.channel %d out of range 0-3", cur.Channel))
		}
		if cur.ADCBits <= 0 || cur.ADCBits > 24 {
			errs = append(errs, fmt.Errorf("sensors.current.adc_bits %d out of range 1-24", cur.ADCBits))
		}
		if cur.Voltage <= 0 {
			errs = append(errs, errors.New("sensors.current.voltage must be positive"))
		}
	}
	if c.Influx.Enabled && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.org and influx.bucket are required when influx is enabled"))
	}
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}
