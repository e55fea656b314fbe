//go:build !linux

// This file provides a stub implementation for non-Linux systems so the
// history and web commands can be developed and used without BPF support.

package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jnesss/errsnoop/config"
	"github.com/jnesss/errsnoop/ksyms"
	"github.com/jnesss/errsnoop/stack"
)

// InitBPF is not available outside Linux.
func InitBPF(cfg *config.Config, syms *ksyms.Table, log *logrus.Entry) (RecordReader, stack.FuncTable, func() error, error) {
	return nil, nil, nil, errors.New("BPF tracing is only available on Linux")
}
