package sensors

import (
	"context"
	"errors"
	"time"
)

// Field names carried in SensorData.Fields.
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldCurrent     = "current"
	FieldPower       = "power"
)

// ErrUnavailable marks a read that produced no usable value this cycle.
var ErrUnavailable = errors.New("sensors: reading unavailable")

// SensorData is the unified data structure for all sensors. A field holding
// NaN was not read successfully.
type SensorData struct {
	SensorType string             `json:"sensor_type"`
	Fields     map[string]float64 `json:"fields"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Sensor interface that all sensors must implement
type Sensor interface {
	Read(ctx context.Context) (*SensorData, error)
	Name() string
}
