// Package recorder writes head orientation to CSV alongside a stream.
package recorder

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/teslashibe/go-miniscope/pkg/hub"
	"github.com/teslashibe/go-miniscope/pkg/session"
)

// Header is the first CSV row.
var Header = []string{"frame", "timestamp_ms", "qw", "qx", "qy", "qz"}

// Recorder writes one row per frame.
type Recorder struct {
	w      *csv.Writer
	closer io.Closer
	logger *slog.Logger
	rows   int
}

// New creates a recorder writing to w and writes the header.
func New(w io.Writer, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		w:      csv.NewWriter(w),
		logger: logger.With("component", "recorder"),
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if err := r.w.Write(Header); err != nil {
		return nil, err
	}
	r.w.Flush()
	return r, r.w.Error()
}

// Create opens path for writing and returns a recorder on it.
func Create(path string, logger *slog.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := New(f, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.logger.Info("recording orientation", "path", path)
	return r, nil
}

// Write appends one frame and flushes it.
func (r *Recorder) Write(f session.Frame) error {
	q := f.Quaternion()
	row := []string{
		strconv.FormatUint(f.Index, 10),
		strconv.FormatInt(f.Timestamp.UnixMilli(), 10),
		strconv.FormatFloat(q[0], 'f', 6, 64),
		strconv.FormatFloat(q[1], 'f', 6, 64),
		strconv.FormatFloat(q[2], 'f', 6, 64),
		strconv.FormatFloat(q[3], 'f', 6, 64),
	}
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return err
	}
	r.rows++
	return nil
}

// Rows returns the number of frames written.
func (r *Recorder) Rows() int {
	return r.rows
}

// Run records frames from sub until the stream ends or ctx is done, then
// closes sub and the output.
func (r *Recorder) Run(ctx context.Context, sub *hub.Subscription) error {
	defer sub.Close()
	defer r.Close()

	for {
		select {
		case f, ok := <-sub.Frames():
			if !ok {
				r.logger.Info("recording finished", "rows", r.rows)
				return sub.Err()
			}
			if err := r.Write(f); err != nil {
				return fmt.Errorf("write frame %d: %w", f.Index, err)
			}
		case <-ctx.Done():
			r.logger.Info("recording stopped", "rows", r.rows)
			return nil
		}
	}
}

// Close flushes and closes the output if it is closable.
func (r *Recorder) Close() error {
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}
