package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned when recording to a closed sink.
var ErrClosed = errors.New("recorder: sink closed")

// #region csv-sink
// CSVSink writes the data sheet. The header is written before the first row.
type CSVSink struct {
	mu      sync.Mutex
	w       *csv.Writer
	closer  io.Closer
	started bool
	closed  bool
}

// NewCSVSink writes to w. If w is an io.Closer it is closed with the sink.
func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateCSV creates path (and its directory) and returns a sink writing to it.
func CreateCSV(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}
	return NewCSVSink(f), nil
}

// DataFileName names a session's data sheet.
func DataFileName(subject string, start time.Time, phase int) string {
	return fmt.Sprintf("%s_%s_data-Phase%d.csv", subject, start.Format("2006-01-02_15.04.05"), phase)
}

func (s *CSVSink) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.started {
		if err := s.w.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		s.started = true
	}
	if err := s.w.Write(e.Row()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the underlying writer. Safe to call twice.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

// WriteAll writes a complete data sheet for events.
func WriteAll(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write(e.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion csv-sink
