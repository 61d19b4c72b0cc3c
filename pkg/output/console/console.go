package console

import (
	"fmt"
	"time"

	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(batch metric.Batch) error {
	for _, p := range batch {
		ts := time.Unix(p.Timestamp, 0).UTC()
		fmt.Printf("%s %s=%.3f\n", ts.Format(time.RFC3339), p.Label, p.Value)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
