package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ericogr/hdc1080-to-graphite/pkg/config"
	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output/console"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output/graphite"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output/mqtt"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output/prometheus"
	"github.com/ericogr/hdc1080-to-graphite/pkg/sensor"
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// outputEntry pairs an initialized output with its configured type.
type outputEntry struct {
	Type string
	Out  output.Output
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %s", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Warnf("unknown log level %q, keeping %s", cfg.LogLevel, log.GetLevel())
	}

	s, err := openSensor(cfg)
	if err != nil {
		log.Fatalf("sensor: %s", err)
	}
	defer s.Close()

	entries, err := initOutputs(cfg)
	if err != nil {
		log.Fatalf("outputs: %s", err)
	}
	defer closeOutputs(entries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sampler := metric.NewSampler(s, time.Duration(cfg.SampleDelayMs)*time.Millisecond)
	run(ctx, cfg, sampler, entries)
}

// openSensor returns the configured sensor. For real hardware the
// identification registers are logged once.
func openSensor(cfg config.Config) (sensor.Sensor, error) {
	opts := sensor.DefaultOpts()
	opts.I2cAddress = uint16(cfg.I2CAddress)
	opts.DualReadMode = cfg.DualReadMode
	opts.HeaterOn = cfg.HeaterOn

	if cfg.SensorType == "simulation" {
		log.Info("using simulated sensor")
		return sensor.NewFakeSensor(opts, time.Now().UnixNano()), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	b, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, errors.Wrap(err, "open i2c")
	}
	dev, err := sensor.New(b, opts)
	if err != nil {
		b.Close()
		return nil, errors.Wrapf(err, "init %s", opts.Name)
	}
	logIdentity(dev)
	return &busSensor{HDC1080: dev, closeBus: b.Close}, nil
}

// busSensor releases the bus together with the driver.
type busSensor struct {
	*sensor.HDC1080
	closeBus func() error
}

func (s *busSensor) Close() error {
	_ = s.HDC1080.Close()
	return s.closeBus()
}

func logIdentity(dev *sensor.HDC1080) {
	fields := log.Fields{"device": dev.String()}
	if v, err := dev.ReadManufacturerID(); err == nil {
		fields["manufacturer_id"] = fmt.Sprintf("0x%04X", v)
	}
	if v, err := dev.ReadDeviceID(); err == nil {
		fields["device_id"] = fmt.Sprintf("0x%04X", v)
	}
	if v, err := dev.ReadSerialNumber(); err == nil {
		fields["serial"] = fmt.Sprintf("0x%012X", v)
	}
	word, err := dev.ReadConfigRegister()
	if err != nil {
		log.WithFields(fields).Warnf("read config register: %s", err)
		return
	}
	fields["config"] = formatConfigWord(word)
	log.WithFields(fields).Info("sensor ready")
}

func formatConfigWord(w uint16) string {
	return fmt.Sprintf("%016b", w)
}

// initOutputs creates every configured output. Outputs created before a
// failure are closed again.
func initOutputs(cfg config.Config) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		typ := strings.ToLower(oc.Type)
		var (
			o   output.Output
			err error
		)
		switch typ {
		case "console":
			o = console.NewConsole()
		case "graphite":
			gc := graphite.Config{}
			if oc.Graphite != nil {
				gc = graphite.Config{
					Host:    oc.Graphite.Host,
					Port:    oc.Graphite.Port,
					Timeout: time.Duration(oc.Graphite.TimeoutMs) * time.Millisecond,
				}
			}
			o, err = graphite.New(gc)
		case "mqtt":
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			o, err = mqtt.NewMQTT(mc, cfg.Location)
		case "prometheus":
			listen := ""
			if oc.Prometheus != nil {
				listen = oc.Prometheus.Listen
			}
			o, err = prometheus.NewPrometheus(listen)
		default:
			err = errors.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			closeOutputs(entries)
			return nil, errors.Wrap(err, typ)
		}
		entries = append(entries, outputEntry{Type: typ, Out: o})
	}
	return entries, nil
}

func closeOutputs(entries []outputEntry) {
	for _, e := range entries {
		if err := e.Out.Close(); err != nil {
			log.Warnf("close %s output: %s", e.Type, err)
		}
	}
}

// run executes one cycle right away and then one per interval until ctx is
// done. A failed cycle is logged; the next tick starts a fresh one.
func run(ctx context.Context, cfg config.Config, sampler *metric.Sampler, entries []outputEntry) {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	t := time.NewTicker(interval)
	defer t.Stop()
	log.Infof("sampling %d readings every %s for %q", cfg.Samples, interval, cfg.Location)
	for {
		if err := runCycle(sampler, cfg.Location, cfg.Samples, entries, time.Now); err != nil {
			log.Errorf("cycle failed: %s", err)
		}
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return
		case <-t.C:
		}
	}
}

// runCycle averages samples readings and publishes the batch to every
// output. Every output is tried; the first failure is returned.
func runCycle(sampler *metric.Sampler, location string, samples int, entries []outputEntry, now func() time.Time) error {
	ts := now().Unix()
	mean, err := sampler.SampleMean(samples)
	if err != nil {
		return err
	}
	batch := metric.BuildBatch(location, mean, ts)
	log.WithFields(log.Fields{"temperature": mean.Temperature, "humidity": mean.Humidity}).Info("batch ready")

	var first error
	for _, e := range entries {
		if err := e.Out.Publish(batch); err != nil {
			log.Errorf("publish to %s: %s", e.Type, err)
			if first == nil {
				first = errors.Wrapf(err, "publish to %s", e.Type)
			}
		}
	}
	return first
}
