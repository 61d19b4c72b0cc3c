// Command receiver decodes station frames from a serial line or a capture
// file and logs one entry per frame.
package main

import (
	"flag"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ericogr/hdc1080-to-graphite/pkg/station"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	device := flag.String("device", "", "serial device or capture file to read frames from (default stdin)")
	flag.Parse()

	var r io.Reader = os.Stdin
	if *device != "" {
		f, err := os.Open(*device)
		if err != nil {
			log.Fatalf("open %s: %s", *device, err)
		}
		defer f.Close()
		r = f
	}

	if err := station.Receive(r, logFrame); err != nil {
		log.Fatalf("receiver: %s", err)
	}
}

func logFrame(f station.Frame) error {
	log.WithFields(log.Fields{
		"station":     f.StationID,
		"temperature": f.Temperature,
		"humidity":    f.Humidity,
		"battery":     f.BatteryLevel,
	}).Info("received frame")
	return nil
}
