package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Uranury/hommie-node/report"
	"github.com/Uranury/hommie-node/sensors"
)

type fakeSession struct {
	authenticated bool
	ready         bool
	readyCalls    int
}

func (f *fakeSession) Authenticated() bool { return f.authenticated }

func (f *fakeSession) Ready(context.Context) bool {
	f.readyCalls++
	return f.ready
}

type write struct {
	path    string
	payload report.Payload
}

type recordingSink struct {
	name   string
	fail   map[string]error
	block  bool
	mu     sync.Mutex
	writes []write
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, path string, p report.Payload) error {
	s.mu.Lock()
	s.writes = append(s.writes, write{path, p})
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fail[path]
}

func (s *recordingSink) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, w := range s.writes {
		out = append(out, w.path)
	}
	return out
}

type scriptedSensor struct {
	fields map[string]float64
	err    error
}

func (s *scriptedSensor) Name() string { return "DHT11" }

func (s *scriptedSensor) Read(context.Context) (*sensors.SensorData, error) {
	if s.err != nil {
		return nil, s.err
	}
	fields := make(map[string]float64, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	return &sensors.SensorData{SensorType: "dht11", Fields: fields, Timestamp: time.Now()}, nil
}

type recordingObserver struct {
	cycles      int
	readFails   []string
	writeErrors int
	writes      int
}

func (o *recordingObserver) CycleStarted(string, time.Time) { o.cycles++ }
func (o *recordingObserver) ReadFailed(sensor string, _ error) {
	o.readFails = append(o.readFails, sensor)
}
func (o *recordingObserver) Written(_, _ string, _ report.Payload, err error) {
	o.writes++
	if err != nil {
		o.writeErrors++
	}
}

var t0 = time.Unix(1_000_000, 0)

type fixture struct {
	temp     *report.Report
	hum      *report.Report
	state    *report.State
	session  *fakeSession
	sensor   *scriptedSensor
	sink     *recordingSink
	observer *recordingObserver
	sched    *Scheduler
}

func newFixture(t *testing.T, mode RefreshMode, sinks ...*recordingSink) *fixture {
	f := &fixture{
		temp:     report.New("1X", "DHT11-Temp", report.Temperature, "Living Room", 24.7),
		hum:      report.New("1X", "DHT11-Hum", report.Humidity, "Living Room", 60),
		session:  &fakeSession{authenticated: true, ready: true},
		sensor:   &scriptedSensor{fields: map[string]float64{sensors.FieldTemperature: 24.7, sensors.FieldHumidity: 55}},
		observer: &recordingObserver{},
	}
	f.state = report.NewState(t0, f.temp, f.hum)
	if len(sinks) == 0 {
		sinks = []*recordingSink{{name: "firebase"}}
	}
	f.sink = sinks[0]
	var ss []Sink
	for _, s := range sinks {
		ss = append(ss, s)
	}
	src := Source{Sensor: f.sensor, Bindings: []Binding{
		{Report: f.temp, Field: sensors.FieldTemperature},
		{Report: f.hum, Field: sensors.FieldHumidity},
	}}
	f.sched = New(Config{Interval: 10 * time.Second, WriteTimeout: time.Second, Mode: mode},
		f.state, f.session, []Source{src}, ss, zaptest.NewLogger(t).Sugar(), f.observer)
	return f
}

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestNoPublishBeforeInterval(t *testing.T) {
	f := newFixture(t, RefreshUnit)

	for _, ms := range []int{0, 1, 5000, 9999, 10000} {
		assert.False(t, f.sched.MaybePublish(context.Background(), at(ms)), "t=%d", ms)
	}
	assert.Empty(t, f.sink.paths())
	assert.Equal(t, t0, f.state.LastPublish())
	assert.Zero(t, f.session.readyCalls)
}

func TestPublishesTemperatureAfterInterval(t *testing.T) {
	f := newFixture(t, RefreshUnit)

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))

	require.Len(t, f.sink.writes, 2)
	assert.Equal(t, "/Living Room/temperature", f.sink.writes[0].path)
	assert.Equal(t, 24.7, f.sink.writes[0].payload.Value)
	assert.Equal(t, "Temperature", f.sink.writes[0].payload.Type)
	assert.Equal(t, "/Living Room/humidity", f.sink.writes[1].path)
	assert.Equal(t, 55.0, f.sink.writes[1].payload.Value)
	assert.Equal(t, at(10001), f.state.LastPublish())
	assert.Equal(t, 1, f.observer.cycles)
}

func TestAtMostOnePublishPerInterval(t *testing.T) {
	f := newFixture(t, RefreshUnit)

	assert.True(t, f.sched.MaybePublish(context.Background(), at(10001)))
	assert.False(t, f.sched.MaybePublish(context.Background(), at(15000)))
	assert.False(t, f.sched.MaybePublish(context.Background(), at(20001)))
	assert.True(t, f.sched.MaybePublish(context.Background(), at(20002)))
	assert.Len(t, f.sink.writes, 4)
}

func TestNotReadyLeavesTimerUntouched(t *testing.T) {
	f := newFixture(t, RefreshUnit)
	f.session.ready = false

	assert.False(t, f.sched.MaybePublish(context.Background(), at(10001)))
	assert.Empty(t, f.sink.paths())
	assert.Equal(t, t0, f.state.LastPublish())
	assert.Zero(t, f.observer.cycles)

	f.session.ready = true
	assert.True(t, f.sched.MaybePublish(context.Background(), at(10050)))
	assert.Equal(t, at(10050), f.state.LastPublish())
}

func TestUnauthenticatedNeverPublishes(t *testing.T) {
	f := newFixture(t, RefreshUnit)
	f.session.authenticated = false

	for ms := 10001; ms < 100000; ms += 10001 {
		assert.False(t, f.sched.MaybePublish(context.Background(), at(ms)))
	}
	assert.Empty(t, f.sink.paths())
	assert.Zero(t, f.session.readyCalls)
}

func TestNaNKeepsStaleValuesInUnitMode(t *testing.T) {
	f := newFixture(t, RefreshUnit)
	f.sensor.fields[sensors.FieldTemperature] = math.NaN()
	f.sensor.fields[sensors.FieldHumidity] = 70

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))

	assert.Equal(t, 24.7, f.temp.Value())
	assert.Equal(t, 60.0, f.hum.Value())
	assert.Equal(t, []string{"DHT11"}, f.observer.readFails)

	// stale values are what went out
	require.Len(t, f.sink.writes, 2)
	assert.Equal(t, 24.7, f.sink.writes[0].payload.Value)
	assert.Equal(t, 60.0, f.sink.writes[1].payload.Value)
	assert.Equal(t, at(10001), f.state.LastPublish())
}

func TestNaNOnlyAffectsItsReportInIndependentMode(t *testing.T) {
	f := newFixture(t, RefreshIndependent)
	f.sensor.fields[sensors.FieldTemperature] = math.NaN()
	f.sensor.fields[sensors.FieldHumidity] = 70

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))

	assert.Equal(t, 24.7, f.temp.Value())
	assert.Equal(t, 70.0, f.hum.Value())
}

func TestMissingFieldIsNotZeroed(t *testing.T) {
	f := newFixture(t, RefreshIndependent)
	delete(f.sensor.fields, sensors.FieldHumidity)
	f.sensor.fields[sensors.FieldTemperature] = 21.5

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))
	assert.Equal(t, 21.5, f.temp.Value())
	assert.Equal(t, 60.0, f.hum.Value())
}

func TestSensorErrorKeepsStaleValues(t *testing.T) {
	f := newFixture(t, RefreshIndependent)
	f.sensor.err = errors.New("checksum mismatch")

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))
	assert.Equal(t, 24.7, f.temp.Value())
	assert.Equal(t, 60.0, f.hum.Value())
	assert.Len(t, f.sink.writes, 2)
}

func TestWriteFailureDoesNotBlockSiblings(t *testing.T) {
	primary := &recordingSink{name: "firebase", fail: map[string]error{
		"/Living Room/temperature": errors.New("Permission denied"),
	}}
	mirror := &recordingSink{name: "mqtt"}
	f := newFixture(t, RefreshUnit, primary, mirror)

	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))

	assert.Equal(t, []string{"/Living Room/temperature", "/Living Room/humidity"}, primary.paths())
	assert.Equal(t, []string{"/Living Room/temperature", "/Living Room/humidity"}, mirror.paths())
	assert.Equal(t, 1, f.observer.writeErrors)
	assert.Equal(t, 4, f.observer.writes)
	// the failed write does not move the timer
	assert.Equal(t, at(10001), f.state.LastPublish())
	assert.False(t, f.sched.MaybePublish(context.Background(), at(12000)))
}

func TestHungWriteIsBounded(t *testing.T) {
	hung := &recordingSink{name: "firebase", block: true}
	f := newFixture(t, RefreshUnit, hung)
	f.sched.cfg.WriteTimeout = 20 * time.Millisecond

	start := time.Now()
	require.True(t, f.sched.MaybePublish(context.Background(), at(10001)))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, hung.paths(), 2)
	assert.Equal(t, 2, f.observer.writeErrors)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, RefreshUnit)
	f.sched.cfg.PollPeriod = time.Millisecond
	f.sched.now = func() time.Time { return at(10001) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.sink.paths()) >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	// a fixed clock never lets a second interval elapse
	assert.Len(t, f.sink.paths(), 2)
}

func TestParseRefreshMode(t *testing.T) {
	m, err := ParseRefreshMode("Independent")
	require.NoError(t, err)
	assert.Equal(t, RefreshIndependent, m)

	m, err = ParseRefreshMode("")
	require.NoError(t, err)
	assert.Equal(t, RefreshUnit, m)

	_, err = ParseRefreshMode("sometimes")
	assert.Error(t, err)
}
