// Package sinks holds the optional mirrors a reading is written to besides
// the realtime database.
package sinks

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/Uranury/hommie-node/report"
)

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Influx mirrors every payload as a point with the report fields as tags.
type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	now         func() time.Time
}

func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "reading"
	}
	return &Influx{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		now:         time.Now,
	}
}

// Ping checks the server health endpoint.
func (i *Influx) Ping(ctx context.Context) error {
	health, err := i.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx health check failed: %s", msg)
	}
	return nil
}

func (i *Influx) Name() string {
	return "influx"
}

func (i *Influx) Write(ctx context.Context, path string, p report.Payload) error {
	point := influxdb2.NewPoint(
		i.measurement,
		map[string]string{
			"device":   p.DeviceUID,
			"name":     p.Name,
			"type":     p.Type,
			"location": p.Location,
			"path":     path,
		},
		map[string]interface{}{
			"value": p.Value,
		},
		i.now(),
	)
	return i.writeAPI.WritePoint(ctx, point)
}

func (i *Influx) Close() {
	i.client.Close()
}
