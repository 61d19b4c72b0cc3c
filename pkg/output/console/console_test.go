package console

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	c := NewConsole()
	batch := metric.Batch{
		{Label: "kitchen.temperature", Timestamp: 1758292914, Value: 21.23456},
		{Label: "kitchen.humidity", Timestamp: 1758292914, Value: 40},
	}
	out := captureStdout(func() { _ = c.Publish(batch) })
	want := "2025-09-19T14:41:54Z kitchen.temperature=21.235\n2025-09-19T14:41:54Z kitchen.humidity=40.000\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}
