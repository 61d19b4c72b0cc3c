package output

import "github.com/ericogr/hdc1080-to-graphite/pkg/metric"

type Output interface {
	Publish(metric.Batch) error
	Close() error
}

// helper constructors are in subpackages
