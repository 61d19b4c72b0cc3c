package metric

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/hdc1080-to-graphite/pkg/sensor"
)

// DefaultSampleDelay spaces consecutive reads so the sensor does not heat
// itself up.
const DefaultSampleDelay = 100 * time.Millisecond

// Point is one labeled, timestamped value.
type Point struct {
	Label     string  `json:"label"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Batch is an ordered list of points sent together.
type Batch []Point

// AggregationError is returned when a reading fails while averaging.
type AggregationError struct {
	Sample int
	Err    error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate sample %d: %v", e.Sample, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// BuildBatch returns the temperature and humidity points for location.
func BuildBatch(location string, r sensor.Reading, timestamp int64) Batch {
	return Batch{
		{Label: location + ".temperature", Timestamp: timestamp, Value: r.Temperature},
		{Label: location + ".humidity", Timestamp: timestamp, Value: r.Humidity},
	}
}

// Sampler takes readings from a sensor, one at a time.
type Sampler struct {
	Sensor sensor.Sensor
	Delay  time.Duration

	sleep func(time.Duration)
}

func NewSampler(s sensor.Sensor, delay time.Duration) *Sampler {
	return &Sampler{Sensor: s, Delay: delay, sleep: time.Sleep}
}

// SampleOnce reads once and then waits for the inter-sample delay.
func (s *Sampler) SampleOnce() (sensor.Reading, error) {
	r, err := s.Sensor.Read()
	if err != nil {
		return sensor.Reading{}, err
	}
	log.Debugf("sample: temperature=%.3f humidity=%.3f", r.Temperature, r.Humidity)
	if s.sleep != nil {
		s.sleep(s.Delay)
	} else {
		time.Sleep(s.Delay)
	}
	return r, nil
}

// SampleMean averages count readings. Any failed reading fails the whole
// mean.
func (s *Sampler) SampleMean(count int) (sensor.Reading, error) {
	if count < 1 {
		return sensor.Reading{}, errors.Errorf("sample count must be > 0, got %d", count)
	}
	var sum sensor.Reading
	for i := 0; i < count; i++ {
		r, err := s.SampleOnce()
		if err != nil {
			return sensor.Reading{}, &AggregationError{Sample: i, Err: err}
		}
		sum.Temperature += r.Temperature
		sum.Humidity += r.Humidity
	}
	return sensor.Reading{
		Temperature: sum.Temperature / float64(count),
		Humidity:    sum.Humidity / float64(count),
	}, nil
}
