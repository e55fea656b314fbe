//go:build linux

// This file contains the Linux-specific BPF implementation. It provides the
// concrete implementation of the platform-agnostic RecordReader defined in
// reader.go.

package main

import (
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jnesss/errsnoop/attach"
	"github.com/jnesss/errsnoop/config"
	"github.com/jnesss/errsnoop/ksyms"
	"github.com/jnesss/errsnoop/stack"
)

// ringReaderWrapper adapts ringbuf.Reader to RecordReader.
type ringReaderWrapper struct {
	*ringbuf.Reader
}

// Read implements RecordReader, translating ringbuf-specific errors.
func (w *ringReaderWrapper) Read() (Record, error) {
	record, err := w.Reader.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return Record{}, errReaderClosed
		}
		return Record{}, err
	}
	return Record{RawSample: record.RawSample}, nil
}

func (w *ringReaderWrapper) SetDeadline(t time.Time) {
	w.Reader.SetDeadline(t)
}

// InitBPF loads the tracing object, attaches it to the selected kernel
// functions and opens the ring buffer. It returns:
// - A RecordReader for reading call stack records
// - The function table records refer to
// - A cleanup function to detach hooks and free resources
// - Any error that occurred during initialization
func InitBPF(cfg *config.Config, syms *ksyms.Table, log *logrus.Entry) (RecordReader, stack.FuncTable, func() error, error) {
	entry, allow, deny := cfg.Globs()
	sel, err := attach.NewSelector(entry, allow, deny)
	if err != nil {
		return nil, nil, nil, err
	}

	att := attach.New(cfg.ObjectPath, sel, syms, cfg.Options().Verbose, log.WithField("component", "attach"))

	fail := func(err error) (RecordReader, stack.FuncTable, func() error, error) {
		if cerr := att.Close(); cerr != nil {
			log.Warnf("Cleanup after failed init: %v", cerr)
		}
		return nil, nil, nil, err
	}

	if err := att.Prepare(); err != nil {
		return fail(err)
	}
	if err := att.Load(); err != nil {
		return fail(err)
	}
	if err := att.Attach(); err != nil {
		return fail(err)
	}

	rb, err := att.RingBuffer()
	if err != nil {
		return fail(err)
	}
	reader, err := ringbuf.NewReader(rb)
	if err != nil {
		return fail(errors.Wrap(err, "failed to create ring buffer reader"))
	}

	if err := att.Activate(); err != nil {
		reader.Close()
		return fail(errors.Wrap(err, "failed to activate tracing"))
	}

	cleanup := func() error {
		var result *multierror.Error
		if err := reader.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := att.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}

	return &ringReaderWrapper{reader}, att.Funcs(), cleanup, nil
}
