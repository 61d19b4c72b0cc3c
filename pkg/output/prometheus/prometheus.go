package prometheus

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output"
)

const DefaultListen = ":9110"

// PrometheusOutput keeps the last published value of every metric label and
// serves it on /metrics.
type PrometheusOutput struct {
	registry  *prometheus.Registry
	value     *prometheus.GaugeVec
	timestamp *prometheus.GaugeVec
	server    *http.Server
	listen    net.Addr
}

func newOutput() *PrometheusOutput {
	p := &PrometheusOutput{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climate_value",
			Help: "Averaged sensor value (units: degrees Celsius or % of relative humidity)",
		}, []string{"metric"}),
		timestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climate_timestamp_seconds",
			Help: "Unix time of the last averaged sample",
		}, []string{"metric"}),
	}
	p.registry.MustRegister(p.value, p.timestamp)
	return p
}

// NewPrometheus starts an HTTP listener on listen exposing the gauges.
func NewPrometheus(listen string) (output.Output, error) {
	if listen == "" {
		listen = DefaultListen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	p := newOutput()
	p.listen = ln.Addr()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("prometheus: serve %s: %s", listen, err)
		}
	}()
	log.Infof("prometheus: serving metrics on %s", ln.Addr())
	return p, nil
}

func (p *PrometheusOutput) addr() string {
	if p.listen == nil {
		return ""
	}
	return p.listen.String()
}

func (p *PrometheusOutput) Publish(batch metric.Batch) error {
	for _, pt := range batch {
		p.value.WithLabelValues(pt.Label).Set(pt.Value)
		p.timestamp.WithLabelValues(pt.Label).Set(float64(pt.Timestamp))
	}
	return nil
}

func (p *PrometheusOutput) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}
