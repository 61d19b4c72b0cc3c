package graphite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	pickle "github.com/kisielk/og-rek"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output"
)

const (
	DefaultHost    = "localhost"
	DefaultPort    = 2004
	DefaultTimeout = 10 * time.Second
	// carbon's pickle receiver understands protocol 2
	pickleProtocol = 2
)

var (
	ErrConnectTimeout    = errors.New("connect timeout")
	ErrAddressResolution = errors.New("address resolution failed")
	ErrConnect           = errors.New("connect failed")
)

// ConnectError classifies a failed connection attempt. Kind is one of
// ErrConnectTimeout, ErrAddressResolution or ErrConnect and matches with
// errors.Is.
type ConnectError struct {
	Kind error
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("graphite %s: %v: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{e.Kind, e.Err} }

type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (c Config) addr() string {
	host, port := c.Host, c.Port
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GraphiteOutput keeps one connection to a carbon pickle receiver for its
// whole lifetime.
type GraphiteOutput struct {
	conn net.Conn
	addr string
}

// Dial connects to the collector, giving up after cfg.Timeout.
func Dial(cfg Config) (*GraphiteOutput, error) {
	addr := cfg.addr()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, classify(addr, err)
	}
	log.Infof("graphite: connected to %s", addr)
	return &GraphiteOutput{conn: conn, addr: addr}, nil
}

// New is Dial returning the generic output interface.
func New(cfg Config) (output.Output, error) {
	return Dial(cfg)
}

func classify(addr string, err error) error {
	var dnsErr *net.DNSError
	var netErr net.Error
	kind := ErrConnect
	switch {
	case errors.As(err, &dnsErr):
		kind = ErrAddressResolution
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrConnectTimeout
	}
	return &ConnectError{Kind: kind, Addr: addr, Err: err}
}

// Encode frames b as a 4-byte big-endian payload length followed by the
// pickled list of (label, (timestamp, value)) tuples.
func Encode(b metric.Batch) ([]byte, error) {
	metrics := make([]interface{}, 0, len(b))
	for _, p := range b {
		metrics = append(metrics, pickle.Tuple{p.Label, pickle.Tuple{p.Timestamp, p.Value}})
	}
	var payload bytes.Buffer
	enc := pickle.NewEncoderWithConfig(&payload, &pickle.EncoderConfig{Protocol: pickleProtocol})
	if err := enc.Encode(metrics); err != nil {
		return nil, errors.Wrap(err, "pickle batch")
	}
	msg := make([]byte, 4, 4+payload.Len())
	binary.BigEndian.PutUint32(msg, uint32(payload.Len()))
	return append(msg, payload.Bytes()...), nil
}

// Send writes one framed batch. A partial write is reported as a failure.
func (g *GraphiteOutput) Send(b metric.Batch) error {
	msg, err := Encode(b)
	if err != nil {
		return err
	}
	if _, err := g.conn.Write(msg); err != nil {
		return errors.Wrapf(err, "graphite send to %s", g.addr)
	}
	log.Debugf("graphite: sent %d points (%d bytes)", len(b), len(msg))
	return nil
}

func (g *GraphiteOutput) Publish(b metric.Batch) error { return g.Send(b) }

func (g *GraphiteOutput) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
