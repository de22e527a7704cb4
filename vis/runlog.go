package vis

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// RunLog appends per-epoch scalars to a CSV file, one row per epoch.
type RunLog struct {
	file    *os.File
	writer  *csv.Writer
	columns int
}

// NewRunLog opens a fresh CSV log with an epoch column followed by the
// named scalar columns.
func NewRunLog(path string, columns []string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	w := csv.NewWriter(f)
	header := append([]string{"epoch"}, columns...)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "writing log header")
	}
	w.Flush()
	return &RunLog{file: f, writer: w, columns: len(columns)}, nil
}

// Append writes one epoch row and flushes it.
func (l *RunLog) Append(epoch int, values []float64) error {
	if len(values) != l.columns {
		return errors.Errorf("expected %d values, got %d", l.columns, len(values))
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, strconv.Itoa(epoch))
	for _, v := range values {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := l.writer.Write(row); err != nil {
		return errors.Wrap(err, "writing log row")
	}
	l.writer.Flush()
	return errors.Wrap(l.writer.Error(), "flushing log")
}

// Close flushes and closes the underlying file.
func (l *RunLog) Close() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
