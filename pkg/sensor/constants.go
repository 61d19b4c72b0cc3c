package sensor

import "time"

// DefaultAddress is the fixed I²C address of the HDC1080.
const DefaultAddress = 0x40

// Configuration register bits.
const (
	configReset           = 0x8000
	configHeaterEnable    = 0x2000
	configAcquisitionMode = 0x1000
	configBatteryStatus   = 0x0800
	configTempResolution  = 0x0400
	configHumiResHigh     = 0x0200
	configHumiResLow      = 0x0100
	configDualReadMode    = 0x0010

	configHumiResMask = configHumiResHigh | configHumiResLow
	// The low byte of the configuration register is reserved and always
	// written as zero.
	configWritableMask = 0xFF00
)

// TemperatureResolution selects the temperature ADC resolution.
type TemperatureResolution uint16

const (
	TemperatureResolution14Bit TemperatureResolution = 0x0000
	TemperatureResolution11Bit TemperatureResolution = 0x0400
)

// HumidityResolution selects the humidity ADC resolution.
type HumidityResolution uint16

const (
	HumidityResolution14Bit HumidityResolution = 0x0000
	HumidityResolution11Bit HumidityResolution = 0x0100
	HumidityResolution8Bit  HumidityResolution = 0x0200
)

// Datasheet timings. These are device contracts; do not shorten them.
const (
	powerOnDelay        = 15 * time.Millisecond
	configWriteDelay    = 15 * time.Millisecond
	temperatureLeadTime = 15 * time.Millisecond
	pointerReadDelay    = 10 * time.Millisecond
	combinedReadDelay   = 20 * time.Millisecond
	identifierDelay     = 62500 * time.Microsecond
)
