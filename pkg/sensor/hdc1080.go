package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/hdc1080-to-graphite/pkg/bus"
)

// sleep is replaced in tests.
var sleep = time.Sleep

// Opts holds the construction options of an HDC1080.
type Opts struct {
	// I2cAddress is the I2C address of the sensor
	I2cAddress uint16
	Name       string
	// DualReadMode sets the dual read mode bit of the initial configuration.
	DualReadMode bool
	HeaterOn     bool

	// Nil converters fall back to Celsius and RelativeHumidity.
	TemperatureConverter Converter
	HumidityConverter    Converter
}

// DefaultOpts returns the options for a sensor at DefaultAddress with dual
// read mode on, the heater off and the default converters.
func DefaultOpts() *Opts {
	return &Opts{
		I2cAddress:   DefaultAddress,
		Name:         "hdc1080",
		DualReadMode: true,
	}
}

// New opens a handle to an HDC1080 sensor on b.
func New(b i2c.Bus, opts *Opts) (*HDC1080, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	return NewWithChannel(bus.Open(b, opts.I2cAddress), opts)
}

// NewWithChannel initializes an HDC1080 reachable through ch. The device is
// given its power-on time, then the initial configuration is written. Any bus
// failure aborts construction.
func NewWithChannel(ch *bus.Channel, opts *Opts) (*HDC1080, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	d := &HDC1080{
		c:        ch,
		Name:     opts.Name,
		toTemp:   opts.TemperatureConverter,
		toHumi:   opts.HumidityConverter,
		measTime: combinedReadDelay,
	}
	if d.Name == "" {
		d.Name = "hdc1080"
	}
	if d.toTemp == nil {
		d.toTemp = Celsius
	}
	if d.toHumi == nil {
		d.toHumi = RelativeHumidity
	}

	sleep(powerOnDelay)

	config := uint16(configAcquisitionMode)
	if opts.DualReadMode {
		config |= configDualReadMode
	}
	if opts.HeaterOn {
		config |= configHeaterEnable
	}
	if err := d.writeConfig(config); err != nil {
		return nil, err
	}
	return d, nil
}

// HDC1080 is a handle to a Texas Instruments HDC1080 humidity and
// temperature sensor.
//
// The configuration register is never cached: every mutator reads the live
// register before changing bits, so bits driven by the device itself are
// preserved.
type HDC1080 struct {
	c        *bus.Channel
	toTemp   Converter
	toHumi   Converter
	measTime time.Duration
	Name     string

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// ReadTemperature triggers and reads a temperature-only conversion.
func (d *HDC1080) ReadTemperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sleep(temperatureLeadTime)
	raw, err := d.readWord(bus.Temperature, pointerReadDelay)
	if err != nil {
		return 0, err
	}
	return d.toTemp(raw), nil
}

// ReadHumidity triggers and reads a humidity-only conversion.
func (d *HDC1080) ReadHumidity() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readWord(bus.Humidity, pointerReadDelay)
	if err != nil {
		return 0, err
	}
	return d.toHumi(raw), nil
}

// ReadTemperatureAndHumidity triggers both conversions with a single pointer
// write and reads temperature then humidity in one 4 byte transaction. It
// relies on the acquisition mode bit set during construction.
func (d *HDC1080) ReadTemperatureAndHumidity() (float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rawT, rawH, err := d.readBoth()
	if err != nil {
		return 0, 0, err
	}
	return d.toTemp(rawT), d.toHumi(rawH), nil
}

// Read implements Sensor with the combined read.
func (d *HDC1080) Read() (Reading, error) {
	t, h, err := d.ReadTemperatureAndHumidity()
	if err != nil {
		return Reading{}, err
	}
	return Reading{Temperature: t, Humidity: h}, nil
}

// Close implements Sensor. The bus is owned by the caller.
func (d *HDC1080) Close() error {
	return d.Halt()
}

// ReadConfigRegister returns the live configuration word.
func (d *HDC1080) ReadConfigRegister() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readConfig()
}

// SetHeater turns the heating element on or off.
func (d *HDC1080) SetHeater(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modifyConfig(func(config uint16) uint16 {
		if on {
			return config | configHeaterEnable
		}
		return config &^ configHeaterEnable
	})
}

// SetHumidityResolution changes the humidity conversion resolution.
func (d *HDC1080) SetHumidityResolution(r HumidityResolution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modifyConfig(func(config uint16) uint16 {
		return config&^configHumiResMask | uint16(r)&configHumiResMask
	})
}

// SetTemperatureResolution changes the temperature conversion resolution.
func (d *HDC1080) SetTemperatureResolution(r TemperatureResolution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modifyConfig(func(config uint16) uint16 {
		return config&^configTempResolution | uint16(r)&configTempResolution
	})
}

// ReadBatteryStatus reports true when the configuration word, ignoring the
// heater bit, is zero.
//
// Any other set bit, including the acquisition mode bit written at
// construction or the low supply voltage flag (configBatteryStatus), makes this
// report false.
func (d *HDC1080) ReadBatteryStatus() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	config, err := d.readConfig()
	if err != nil {
		return false, err
	}
	return config&^configHeaterEnable == 0, nil
}

// Reset issues a software reset. The device returns to its power-on
// configuration, so the bits written at construction are lost.
func (d *HDC1080) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeConfig(configReset)
}

// ReadManufacturerID returns the manufacturer id, 0x5449 for Texas
// Instruments.
func (d *HDC1080) ReadManufacturerID() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readWord(bus.ManufacturerID, identifierDelay)
}

// ReadDeviceID returns the device id, 0x1050 for an HDC1080.
func (d *HDC1080) ReadDeviceID() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readWord(bus.DeviceID, identifierDelay)
}

// ReadSerialNumber assembles the 48-bit serial id from its three registers.
func (d *HDC1080) ReadSerialNumber() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var serial uint64
	for _, reg := range []bus.Register{bus.SerialHigh, bus.SerialMid, bus.SerialLow} {
		w, err := d.readWord(reg, identifierDelay)
		if err != nil {
			return 0, err
		}
		serial = serial*65536 + uint64(w)
	}
	return serial, nil
}

// Sense implements physic.SenseEnv using the combined read.
func (d *HDC1080) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}
	return d.sense(e)
}

// SenseContinuous returns measurements on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel.
func (d *HDC1080) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	// Don't send anything to the device, just stop the previous loop.
	_ = d.Halt()

	d.mu.Lock()
	defer d.mu.Unlock()
	sensing := make(chan physic.Env)
	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}()
	return sensing, nil
}

// Precision reports one LSB of the 14-bit conversions.
func (d *HDC1080) Precision(e *physic.Env) {
	e.Temperature = 165 * physic.Kelvin / 65536
	e.Humidity = 100 * physic.PercentRH / 65536
}

// Halt stops a SenseContinuous loop, if any.
func (d *HDC1080) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

func (d *HDC1080) String() string {
	return fmt.Sprintf("%s{%s}", d.Name, d.c)
}

func (d *HDC1080) sense(e *physic.Env) error {
	rawT, rawH, err := d.readBoth()
	if err != nil {
		return err
	}
	temp := d.toTemp(rawT)
	rh := d.toHumi(rawH)
	e.Temperature = physic.Temperature(temp*1000)*physic.MilliCelsius + physic.ZeroCelsius
	e.Humidity = physic.RelativeHumidity(rh*10000) * physic.MicroRH
	return nil
}

func (d *HDC1080) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	if interval < d.measTime {
		interval = d.measTime
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		e := physic.Env{}
		d.mu.Lock()
		err := d.sense(&e)
		d.mu.Unlock()
		if err != nil {
			log.Errorf("%s: continuous sensing stopped: %s", d.Name, err)
			// Halt may have released it already.
			d.mu.Lock()
			if d.stop == stop {
				d.stop = nil
			}
			d.mu.Unlock()
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// readBoth must be called with mu held.
func (d *HDC1080) readBoth() (uint16, uint16, error) {
	if err := d.c.WritePointer(bus.Temperature); err != nil {
		return 0, 0, err
	}
	sleep(combinedReadDelay)
	data, err := d.c.ReadBytes(4)
	if err != nil {
		return 0, 0, err
	}
	return readUint(data[0], data[1]), readUint(data[2], data[3]), nil
}

func (d *HDC1080) readWord(reg bus.Register, delay time.Duration) (uint16, error) {
	if err := d.c.WritePointer(reg); err != nil {
		return 0, err
	}
	sleep(delay)
	data, err := d.c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return readUint(data[0], data[1]), nil
}

func (d *HDC1080) readConfig() (uint16, error) {
	return d.readWord(bus.Configuration, pointerReadDelay)
}

func (d *HDC1080) modifyConfig(f func(uint16) uint16) error {
	config, err := d.readConfig()
	if err != nil {
		return err
	}
	return d.writeConfig(f(config))
}

func (d *HDC1080) writeConfig(config uint16) error {
	if err := d.c.WriteRegister(bus.Configuration, config&configWritableMask); err != nil {
		return err
	}
	sleep(configWriteDelay)
	return nil
}

func (d *HDC1080) wrap(err error) error {
	return errors.Wrap(err, d.Name)
}

var _ conn.Resource = &HDC1080{}
var _ physic.SenseEnv = &HDC1080{}
var _ Sensor = &HDC1080{}
