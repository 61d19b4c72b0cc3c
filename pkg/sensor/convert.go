package sensor

// Converter turns a raw 16-bit register value into a physical value.
type Converter func(raw uint16) float64

// Celsius is the datasheet temperature transfer function.
func Celsius(raw uint16) float64 {
	return (float64(raw)/65536.0)*165.0 - 40.0
}

// RelativeHumidity is the datasheet humidity transfer function, in percent.
func RelativeHumidity(raw uint16) float64 {
	return (float64(raw) / 65536.0) * 100.0
}

func readUint(msb, lsb byte) uint16 {
	return uint16(msb)<<8 | uint16(lsb)
}
