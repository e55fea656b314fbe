// Package main implements errsnoop, which prints kernel call stacks that
// end in an error.
//
// The event source is hidden behind RecordReader so the event loop can be
// exercised without BPF support (e.g. on MacOS, or in tests).
package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
)

// errReaderClosed is returned by Read once the reader has been closed.
var errReaderClosed = errors.New("record reader closed")

// RecordReader defines a platform-agnostic interface for reading raw
// call stack records. On Linux, this is implemented using a BPF ring buffer.
type RecordReader interface {
	// Read blocks until a record arrives, the deadline passes
	// (os.ErrDeadlineExceeded) or the reader is closed (errReaderClosed).
	Read() (Record, error)
	// SetDeadline bounds the next Read calls.
	SetDeadline(t time.Time)
	// Close cleans up any resources
	Close() error
}

// Record represents a single ring buffer sample.
type Record struct {
	// RawSample contains the raw call stack record
	RawSample []byte
}

// pollRecords delivers records to handle one at a time until ctx is
// cancelled or the reader is closed. Every Read is bounded by timeout so
// cancellation is noticed between polls.
func pollRecords(ctx context.Context, rd RecordReader, timeout time.Duration, handle func([]byte)) error {
	for ctx.Err() == nil {
		rd.SetDeadline(time.Now().Add(timeout))

		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, errReaderClosed) {
				return nil
			}
			return errors.Wrap(err, "error polling ring buffer")
		}

		handle(record.RawSample)
	}
	return nil
}
