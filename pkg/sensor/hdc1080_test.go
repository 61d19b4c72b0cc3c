package sensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/hdc1080-to-graphite/pkg/bus"
)

// initOp is the configuration write issued by DefaultOpts construction.
var initOp = i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, 0x10, 0x00}}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var got []time.Duration
	prev := sleep
	sleep = func(d time.Duration) { got = append(got, d) }
	t.Cleanup(func() { sleep = prev })
	return &got
}

func newTestDev(t *testing.T, ops ...i2ctest.IO) (*HDC1080, *i2ctest.Playback) {
	t.Helper()
	pb := &i2ctest.Playback{Ops: append([]i2ctest.IO{initOp}, ops...), DontPanic: true}
	d, err := New(pb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, pb
}

func configRead(hi, lo byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0x02}},
		{Addr: DefaultAddress, R: []byte{hi, lo}},
	}
}

func checkDrained(t *testing.T, pb *i2ctest.Playback) {
	t.Helper()
	if err := pb.Close(); err != nil {
		t.Fatalf("unexpected bus traffic: %v", err)
	}
}

func TestNewWritesConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts Opts
		want []byte
	}{
		{"acquisition only", Opts{I2cAddress: DefaultAddress}, []byte{0x02, 0x10, 0x00}},
		// the dual read bit lives in the reserved low byte and is not transmitted
		{"dual read", Opts{I2cAddress: DefaultAddress, DualReadMode: true}, []byte{0x02, 0x10, 0x00}},
		{"heater", Opts{I2cAddress: DefaultAddress, HeaterOn: true}, []byte{0x02, 0x30, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeps := recordSleeps(t)
			pb := &i2ctest.Playback{Ops: []i2ctest.IO{{Addr: DefaultAddress, W: tt.want}}, DontPanic: true}
			opts := tt.opts
			if _, err := New(pb, &opts); err != nil {
				t.Fatalf("New: %v", err)
			}
			checkDrained(t, pb)
			want := []time.Duration{15 * time.Millisecond, 15 * time.Millisecond}
			if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
				t.Fatalf("sleeps = %v; want %v", *sleeps, want)
			}
		})
	}
}

func TestNewFailsOnBusError(t *testing.T) {
	recordSleeps(t)
	pb := &i2ctest.Playback{DontPanic: true}
	d, err := New(pb, nil)
	if err == nil || d != nil {
		t.Fatalf("New on dead bus = %v, %v; want nil, error", d, err)
	}
	var ioErr *bus.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error %T; want *bus.IOError", err)
	}
}

func TestConverters(t *testing.T) {
	tests := []struct {
		raw        uint16
		temp, humi float64
	}{
		{0, -40.0, 0.0},
		{65535, 124.99748229980469, 99.99847412109375},
		{32768, 42.5, 50.0},
	}
	for _, tt := range tests {
		if got := Celsius(tt.raw); math.Abs(got-tt.temp) > 1e-9 {
			t.Errorf("Celsius(%d) = %v; want %v", tt.raw, got, tt.temp)
		}
		if got := RelativeHumidity(tt.raw); math.Abs(got-tt.humi) > 1e-9 {
			t.Errorf("RelativeHumidity(%d) = %v; want %v", tt.raw, got, tt.humi)
		}
	}
}

func TestReadTemperatureAndHumidity(t *testing.T) {
	sleeps := recordSleeps(t)
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		initOp,
		{Addr: DefaultAddress, W: []byte{0x00}},
		{Addr: DefaultAddress, R: []byte{0x80, 0x00, 0x40, 0x00}},
	}, DontPanic: true}
	raw := func(r uint16) float64 { return float64(r) }
	d, err := New(pb, &Opts{I2cAddress: DefaultAddress, TemperatureConverter: raw, HumidityConverter: raw})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	temp, humi, err := d.ReadTemperatureAndHumidity()
	if err != nil {
		t.Fatalf("ReadTemperatureAndHumidity: %v", err)
	}
	if temp != 0x8000 || humi != 0x4000 {
		t.Fatalf("raw values = %v, %v; want 32768, 16384", temp, humi)
	}
	if last := (*sleeps)[len(*sleeps)-1]; last != 20*time.Millisecond {
		t.Fatalf("combined read delay = %v", last)
	}
	checkDrained(t, pb)
}

func TestReadSingleQuantities(t *testing.T) {
	sleeps := recordSleeps(t)
	d, pb := newTestDev(t,
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0x00}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x80, 0x00}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0x01}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x80, 0x00}},
	)
	*sleeps = nil
	temp, err := d.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature: %v", err)
	}
	if temp != 42.5 {
		t.Fatalf("temperature = %v; want 42.5", temp)
	}
	humi, err := d.ReadHumidity()
	if err != nil {
		t.Fatalf("ReadHumidity: %v", err)
	}
	if humi != 50.0 {
		t.Fatalf("humidity = %v; want 50", humi)
	}
	want := []time.Duration{15 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v; want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Fatalf("sleeps = %v; want %v", *sleeps, want)
		}
	}
	checkDrained(t, pb)
}

func TestSetHeaterReadModifyWrite(t *testing.T) {
	recordSleeps(t)
	var ops []i2ctest.IO
	ops = append(ops, configRead(0x15, 0x00)...)
	ops = append(ops, i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, 0x35, 0x00}})
	ops = append(ops, configRead(0x35, 0x00)...)
	ops = append(ops, i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, 0x15, 0x00}})
	ops = append(ops, configRead(0x15, 0x00)...)
	d, pb := newTestDev(t, ops...)

	if err := d.SetHeater(true); err != nil {
		t.Fatalf("SetHeater(true): %v", err)
	}
	if err := d.SetHeater(false); err != nil {
		t.Fatalf("SetHeater(false): %v", err)
	}
	config, err := d.ReadConfigRegister()
	if err != nil {
		t.Fatalf("ReadConfigRegister: %v", err)
	}
	if config != 0x1500 {
		t.Fatalf("config = 0x%04X; want 0x1500", config)
	}
	checkDrained(t, pb)
}

func TestSetResolution(t *testing.T) {
	recordSleeps(t)
	var ops []i2ctest.IO
	ops = append(ops, configRead(0x13, 0x00)...)
	ops = append(ops, i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, 0x12, 0x00}})
	ops = append(ops, configRead(0x12, 0x00)...)
	ops = append(ops, i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, 0x16, 0x00}})
	d, pb := newTestDev(t, ops...)

	if err := d.SetHumidityResolution(HumidityResolution8Bit); err != nil {
		t.Fatalf("SetHumidityResolution: %v", err)
	}
	if err := d.SetTemperatureResolution(TemperatureResolution11Bit); err != nil {
		t.Fatalf("SetTemperatureResolution: %v", err)
	}
	checkDrained(t, pb)
}

func TestReadBatteryStatus(t *testing.T) {
	tests := []struct {
		config uint16
		want   bool
	}{
		{0x0000, true},
		{0x2000, true},
		{configBatteryStatus, false},
		{configBatteryStatus | configHeaterEnable, false},
		{0x1000, false},
		{0x3000, false},
		{0x0001, false},
	}
	for _, tt := range tests {
		recordSleeps(t)
		d, pb := newTestDev(t, configRead(byte(tt.config>>8), byte(tt.config))...)
		got, err := d.ReadBatteryStatus()
		if err != nil {
			t.Fatalf("ReadBatteryStatus: %v", err)
		}
		if got != tt.want {
			t.Errorf("ReadBatteryStatus(config=0x%04X) = %v; want %v", tt.config, got, tt.want)
		}
		checkDrained(t, pb)
	}
}

func TestReadIdentifiers(t *testing.T) {
	sleeps := recordSleeps(t)
	d, pb := newTestDev(t,
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0xFE}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x54, 0x49}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0xFF}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x10, 0x50}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0xFB}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0xFF, 0xFF}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0xFC}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x56, 0x78}},
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0xFD}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x9A, 0xBC}},
	)
	*sleeps = nil

	mid, err := d.ReadManufacturerID()
	if err != nil || mid != 0x5449 {
		t.Fatalf("ReadManufacturerID = 0x%04X, %v", mid, err)
	}
	did, err := d.ReadDeviceID()
	if err != nil || did != 0x1050 {
		t.Fatalf("ReadDeviceID = 0x%04X, %v", did, err)
	}
	serial, err := d.ReadSerialNumber()
	if err != nil {
		t.Fatalf("ReadSerialNumber: %v", err)
	}
	want := uint64(0xFFFF)*65536*65536 + uint64(0x5678)*65536 + 0x9ABC
	if serial != want {
		t.Fatalf("serial = 0x%X; want 0x%X", serial, want)
	}
	if len(*sleeps) != 5 {
		t.Fatalf("sleeps = %v; want five identifier delays", *sleeps)
	}
	for _, s := range *sleeps {
		if s != 62500*time.Microsecond {
			t.Fatalf("identifier delay = %v", s)
		}
	}
	checkDrained(t, pb)
}

type shortReader struct{}

func (shortReader) Read(p []byte) (int, error)  { return 1, nil }
func (shortReader) Write(p []byte) (int, error) { return len(p), nil }

func TestShortReadIsError(t *testing.T) {
	recordSleeps(t)
	d, err := NewWithChannel(bus.New(shortReader{}), nil)
	if err != nil {
		t.Fatalf("NewWithChannel: %v", err)
	}
	v, err := d.ReadHumidity()
	var ioErr *bus.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("ReadHumidity = %v, %v; want *bus.IOError", v, err)
	}
	if _, err := d.Read(); !errors.As(err, &ioErr) {
		t.Fatalf("Read: %v; want *bus.IOError", err)
	}
}

func TestSense(t *testing.T) {
	recordSleeps(t)
	d, pb := newTestDev(t,
		i2ctest.IO{Addr: DefaultAddress, W: []byte{0x00}},
		i2ctest.IO{Addr: DefaultAddress, R: []byte{0x80, 0x00, 0x80, 0x00}},
	)
	var e physic.Env
	if err := d.Sense(&e); err != nil {
		t.Fatalf("Sense: %v", err)
	}
	if c := e.Temperature.Celsius(); math.Abs(c-42.5) > 0.001 {
		t.Fatalf("temperature = %v°C; want 42.5", c)
	}
	if e.Humidity != 50*physic.PercentRH {
		t.Fatalf("humidity = %s; want 50%%rH", e.Humidity)
	}
	checkDrained(t, pb)
	if got := d.String(); got == "" {
		t.Fatal("empty String()")
	}
}

func TestReset(t *testing.T) {
	sleeps := recordSleeps(t)
	d, pb := newTestDev(t, i2ctest.IO{Addr: DefaultAddress, W: []byte{0x02, byte(configReset >> 8), 0x00}})
	*sleeps = nil
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 15*time.Millisecond {
		t.Fatalf("sleeps = %v; want one 15ms wait", *sleeps)
	}
	checkDrained(t, pb)
}

func combinedRead(t, h uint16) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0x00}},
		{Addr: DefaultAddress, R: []byte{byte(t >> 8), byte(t), byte(h >> 8), byte(h)}},
	}
}

func receive(t *testing.T, c <-chan physic.Env) (physic.Env, bool) {
	t.Helper()
	select {
	case e, ok := <-c:
		return e, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting on the sensing channel")
	}
	return physic.Env{}, false
}

func TestSenseContinuous(t *testing.T) {
	recordSleeps(t)
	var ops []i2ctest.IO
	ops = append(ops, combinedRead(0x8000, 0x8000)...)
	ops = append(ops, combinedRead(0x8000, 0x4000)...)
	d, pb := newTestDev(t, ops...)

	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatalf("SenseContinuous: %v", err)
	}
	wantRH := []physic.RelativeHumidity{50 * physic.PercentRH, 25 * physic.PercentRH}
	for i, want := range wantRH {
		e, ok := receive(t, c)
		if !ok {
			t.Fatalf("channel closed after %d readings", i)
		}
		if math.Abs(e.Temperature.Celsius()-42.5) > 0.001 || e.Humidity != want {
			t.Fatalf("reading %d = %s, %s", i, e.Temperature, e.Humidity)
		}
	}
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	// The loop may already have stopped on the exhausted playback; either way
	// the channel ends closed.
	if _, ok := receive(t, c); ok {
		t.Fatal("channel still open after Halt")
	}
	checkDrained(t, pb)
}

func TestHaltAllowsSense(t *testing.T) {
	recordSleeps(t)
	var ops []i2ctest.IO
	ops = append(ops, combinedRead(0x8000, 0x8000)...)
	ops = append(ops, combinedRead(0x8000, 0x8000)...)
	d, pb := newTestDev(t, ops...)

	c, err := d.SenseContinuous(time.Hour)
	if err != nil {
		t.Fatalf("SenseContinuous: %v", err)
	}
	if _, ok := receive(t, c); !ok {
		t.Fatal("channel closed before the first reading")
	}
	var e physic.Env
	if err := d.Sense(&e); err == nil {
		t.Fatal("Sense while sensing continuously should fail")
	}
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if err := d.Sense(&e); err != nil {
		t.Fatalf("Sense after Halt: %v", err)
	}
	checkDrained(t, pb)
}

func TestSenseAfterContinuousBusError(t *testing.T) {
	recordSleeps(t)
	d, pb := newTestDev(t)

	c, err := d.SenseContinuous(time.Millisecond)
	if err != nil {
		t.Fatalf("SenseContinuous: %v", err)
	}
	// The playback has no more operations, so the first read fails and the
	// loop ends.
	if _, ok := receive(t, c); ok {
		t.Fatal("got a reading from an empty playback")
	}

	pb.Ops = append(pb.Ops, combinedRead(0x8000, 0x8000)...)
	var e physic.Env
	if err := d.Sense(&e); err != nil {
		t.Fatalf("Sense after the loop stopped: %v", err)
	}
	if e.Humidity != 50*physic.PercentRH {
		t.Fatalf("humidity = %s; want 50%%rH", e.Humidity)
	}
	if err := d.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	checkDrained(t, pb)
}
