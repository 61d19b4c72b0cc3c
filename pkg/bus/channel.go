package bus

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"tinygo.org/x/drivers"
)

// Register is a one byte register address on the device.
type Register byte

const (
	Temperature    Register = 0x00
	Humidity       Register = 0x01
	Configuration  Register = 0x02
	SerialHigh     Register = 0xFB
	SerialMid      Register = 0xFC
	SerialLow      Register = 0xFD
	ManufacturerID Register = 0xFE
	DeviceID       Register = 0xFF
)

func (r Register) String() string {
	switch r {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Configuration:
		return "configuration"
	case SerialHigh:
		return "serial-high"
	case SerialMid:
		return "serial-mid"
	case SerialLow:
		return "serial-low"
	case ManufacturerID:
		return "manufacturer-id"
	case DeviceID:
		return "device-id"
	}
	return fmt.Sprintf("register(0x%02X)", byte(r))
}

// IOError is returned for any failed or short transfer on the bus.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "bus " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// Channel performs register transactions against a single device address.
// The address is bound when the channel is created and never changes.
//
// Channel does not sleep; callers wait for the device between a write and
// the following read.
type Channel struct {
	rw   io.ReadWriter
	name string
}

// New wraps a duplex byte channel that is already bound to a device.
func New(rw io.ReadWriter) *Channel {
	name := "bus"
	if s, ok := rw.(fmt.Stringer); ok {
		name = s.String()
	}
	return &Channel{rw: rw, name: name}
}

// Open binds a channel to addr on a periph I²C bus.
func Open(b i2c.Bus, addr uint16) *Channel {
	d := &i2c.Dev{Bus: b, Addr: addr}
	return &Channel{rw: periphDev{d}, name: d.String()}
}

// FromTinyGo binds a channel to addr on a TinyGo I²C bus.
func FromTinyGo(b drivers.I2C, addr uint16) *Channel {
	return &Channel{rw: tinygoDev{bus: b, addr: addr}, name: fmt.Sprintf("tinygo-i2c(0x%02X)", addr)}
}

func (c *Channel) String() string { return c.name }

// WritePointer selects reg for the next read.
func (c *Channel) WritePointer(reg Register) error {
	log.Debugf("%s: pointer write %s", c.name, reg)
	return c.write("write pointer", []byte{byte(reg)})
}

// WriteRegister writes a 16-bit value to reg as [reg, high, low].
func (c *Channel) WriteRegister(reg Register, value uint16) error {
	log.Debugf("%s: register write %s=0x%04X", c.name, reg, value)
	return c.write("write register", []byte{byte(reg), byte(value >> 8), byte(value)})
}

// ReadBytes reads exactly n bytes. A short read is an error.
func (c *Channel) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := c.rw.Read(buf)
	if err != nil && !(err == io.EOF && got == n) {
		return nil, &IOError{Op: "read", Err: err}
	}
	if got != n {
		return nil, &IOError{Op: "read", Err: errors.Wrapf(io.ErrUnexpectedEOF, "got %d of %d bytes", got, n)}
	}
	log.Debugf("%s: read % X", c.name, buf)
	return buf, nil
}

func (c *Channel) write(op string, frame []byte) error {
	n, err := c.rw.Write(frame)
	if err != nil {
		return &IOError{Op: op, Err: err}
	}
	if n != len(frame) {
		return &IOError{Op: op, Err: errors.Wrapf(io.ErrShortWrite, "wrote %d of %d bytes", n, len(frame))}
	}
	return nil
}

// periphDev issues each write and each read as its own bus transaction so the
// device sees a stop condition between the pointer write and the read.
type periphDev struct {
	d *i2c.Dev
}

func (p periphDev) Write(b []byte) (int, error) { return p.d.Write(b) }

func (p periphDev) Read(b []byte) (int, error) {
	if err := p.d.Tx(nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p periphDev) String() string { return p.d.String() }

type tinygoDev struct {
	bus  drivers.I2C
	addr uint16
}

func (t tinygoDev) Write(b []byte) (int, error) {
	if err := t.bus.Tx(t.addr, b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (t tinygoDev) Read(b []byte) (int, error) {
	if err := t.bus.Tx(t.addr, nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}
