package sensor

import (
	"math/rand"
	"sync"
)

// FakeSensor produces plausible indoor readings without hardware. Raw values
// go through the same converters as the real driver.
type FakeSensor struct {
	toTemp Converter
	toHumi Converter
	rnd    *rand.Rand
	mu     sync.Mutex
}

func NewFakeSensor(opts *Opts, seed int64) Sensor {
	f := &FakeSensor{toTemp: Celsius, toHumi: RelativeHumidity, rnd: rand.New(rand.NewSource(seed))}
	if opts != nil && opts.TemperatureConverter != nil {
		f.toTemp = opts.TemperatureConverter
	}
	if opts != nil && opts.HumidityConverter != nil {
		f.toHumi = opts.HumidityConverter
	}
	return f
}

func (f *FakeSensor) Read() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// around 20..24 °C and 40..50 %rH
	rawT := uint16(23831 + f.rnd.Intn(1589))
	rawH := uint16(26214 + f.rnd.Intn(6554))
	return Reading{Temperature: f.toTemp(rawT), Humidity: f.toHumi(rawH)}, nil
}

func (f *FakeSensor) Close() error { return nil }
