// Package station runs the battery powered measurement station: a
// microcontroller that reads the HDC1080 once per period and transmits a
// fixed size frame to a receiver.
package station

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	"github.com/ericogr/hdc1080-to-graphite/pkg/bus"
	"github.com/ericogr/hdc1080-to-graphite/pkg/sensor"
)

const (
	// DefaultPeriod is the pause between two transmitted frames.
	DefaultPeriod = time.Second
	// FrameSize is the encoded size of a Frame.
	FrameSize = 10
)

// Frame is one transmitted measurement. The wire layout is little endian:
// temperature float32, humidity float32, battery level byte, station id byte.
type Frame struct {
	Temperature  float32
	Humidity     float32
	BatteryLevel uint8
	StationID    uint8
}

// MarshalBinary encodes f in its FrameSize byte wire layout.
func (f Frame) MarshalBinary() ([]byte, error) {
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(f.Temperature))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(f.Humidity))
	b[8] = f.BatteryLevel
	b[9] = f.StationID
	return b, nil
}

// UnmarshalBinary decodes a frame produced by MarshalBinary.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) != FrameSize {
		return errors.Errorf("frame: got %d bytes; want %d", len(b), FrameSize)
	}
	f.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(b[0:]))
	f.Humidity = math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
	f.BatteryLevel = b[8]
	f.StationID = b[9]
	return nil
}

// Station measures with an HDC1080 on a TinyGo I²C bus.
type Station struct {
	ID     uint8
	Period time.Duration

	dev   *sensor.HDC1080
	sleep func(time.Duration)
}

// New initializes the sensor at addr on b. The sensor gets the default
// configuration, so every measurement is a single combined read.
func New(b drivers.I2C, addr uint16, id uint8) (*Station, error) {
	opts := sensor.DefaultOpts()
	opts.I2cAddress = addr
	opts.Name = "station"
	dev, err := sensor.NewWithChannel(bus.FromTinyGo(b, addr), opts)
	if err != nil {
		return nil, errors.Wrap(err, "init station sensor")
	}
	return &Station{ID: id, Period: DefaultPeriod, dev: dev, sleep: time.Sleep}, nil
}

// Measure takes one combined temperature and humidity reading. The station
// has no battery gauge, so BatteryLevel is always zero.
func (s *Station) Measure() (Frame, error) {
	r, err := s.dev.Read()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Temperature: float32(r.Temperature),
		Humidity:    float32(r.Humidity),
		StationID:   s.ID,
	}, nil
}

// Run measures and writes one frame to w per Period. It stops after frames
// frames, or never when frames is zero. A failed measurement is logged and
// skipped; a failed transmission ends the loop.
func (s *Station) Run(w io.Writer, frames int) error {
	for sent := 0; frames == 0 || sent < frames; {
		f, err := s.Measure()
		if err != nil {
			log.Errorf("station %d: measure: %v", s.ID, err)
			s.sleep(s.Period)
			continue
		}
		b, _ := f.MarshalBinary()
		if _, err := w.Write(b); err != nil {
			return errors.Wrapf(err, "station %d: send frame", s.ID)
		}
		sent++
		s.sleep(s.Period)
	}
	return nil
}

// Receive reads frames from r and hands each to fn until r is exhausted. A
// trailing partial frame is an error.
func Receive(r io.Reader, fn func(Frame) error) error {
	buf := make([]byte, FrameSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "receive frame")
		}
		var f Frame
		if err := f.UnmarshalBinary(buf); err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
