package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultPath = "./metrics/salesorg.prom"

// TextfileWriter dumps a gatherer in the text exposition format. Batch
// commands exit before anything could scrape them, so the file is the
// only way their counters leave the process.
type TextfileWriter struct {
	path     string
	gatherer prometheus.Gatherer
}

func NewTextfileWriter(path string, gatherer prometheus.Gatherer) *TextfileWriter {
	if path == "" {
		path = DefaultPath
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &TextfileWriter{path: path, gatherer: gatherer}
}

func (w *TextfileWriter) Path() string {
	return w.path
}

// Write replaces the file atomically.
func (w *TextfileWriter) Write() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(w.path, w.gatherer)
}
