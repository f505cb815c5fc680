package report

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Kind is the type tag of a reading.
type Kind int

const (
	Temperature Kind = iota + 1
	Humidity
	Energy
)

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "Temperature"
	case Humidity:
		return "Humidity"
	case Energy:
		return "Energy"
	default:
		return "Unknown"
	}
}

// Node is the lowercase path segment the kind is written under.
func (k Kind) Node() string {
	return strings.ToLower(k.String())
}

// ParseKind accepts the type tag in any case.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Temperature, Humidity, Energy} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reading type %q", s)
}

// Payload is the object shape written to the backend for every report.
type Payload struct {
	DeviceUID string  `json:"deviceuid"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Location  string  `json:"location"`
	Value     float64 `json:"value"`
}

// Report is a named scalar value tracked for periodic publication.
// Everything except the value is fixed at construction.
type Report struct {
	deviceUID string
	name      string
	kind      Kind
	location  string

	mu    sync.RWMutex
	value float64
}

// New creates a report holding a placeholder value until the first refresh.
func New(deviceUID, name string, kind Kind, location string, initial float64) *Report {
	return &Report{
		deviceUID: deviceUID,
		name:      name,
		kind:      kind,
		location:  location,
		value:     initial,
	}
}

func (r *Report) DeviceUID() string { return r.deviceUID }
func (r *Report) Name() string      { return r.name }
func (r *Report) Kind() Kind        { return r.kind }
func (r *Report) Location() string  { return r.location }

func (r *Report) Value() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// SetValue stores v and reports whether it was accepted. NaN and
// infinities are refused and the previous value is kept.
func (r *Report) SetValue(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	r.mu.Lock()
	r.value = v
	r.mu.Unlock()
	return true
}

// Path is the database node the report is written to, e.g. "/Living Room/temperature".
func (r *Report) Path() string {
	return "/" + r.location + "/" + r.kind.Node()
}

func (r *Report) Payload() Payload {
	return Payload{
		DeviceUID: r.deviceUID,
		Name:      r.name,
		Type:      r.kind.String(),
		Location:  r.location,
		Value:     r.Value(),
	}
}
