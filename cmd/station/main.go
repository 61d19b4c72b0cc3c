//go:build rp2040 || rp2350

// Command station is the measurement station firmware. It reads the HDC1080
// on i2c0 once per second and transmits every frame on uart0, where the radio
// module or a receiver is attached.
package main

import (
	"time"

	"machine"

	"github.com/ericogr/hdc1080-to-graphite/pkg/sensor"
	"github.com/ericogr/hdc1080-to-graphite/pkg/station"
)

const stationID = 1

func main() {
	i2c := machine.I2C0
	_ = i2c.Configure(machine.I2CConfig{
		Frequency: 100 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 9600})

	for {
		s, err := station.New(i2c, sensor.DefaultAddress, stationID)
		if err != nil {
			println("station: " + err.Error())
			time.Sleep(station.DefaultPeriod)
			continue
		}
		if err := s.Run(uart, 0); err != nil {
			println("station: " + err.Error())
		}
	}
}
