package stack

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options are the process-wide output switches.
type Options struct {
	Verbose bool // keep and mark instrumentation artifacts, print addresses
	Debug   bool // log per-record depth bookkeeping
}

// Report summarizes one rendered error stack for history storage.
type Report struct {
	Timestamp time.Time
	EntryFunc string // outermost logical frame
	Result    int64  // result of EntryFunc
	ErrName   string // symbolic errno of Result, if any
	Depth     int    // logical frames, stitched included
	Stitched  bool
	Text      string
}

// Recorder persists reports. Failures are logged, never fatal.
type Recorder interface {
	InsertErrorStack(r *Report) error
}

// Handler runs the full pipeline for one record at a time. It is not safe
// for concurrent use: its scratch buffers are reused between records.
type Handler struct {
	funcs    FuncTable
	syms     SymbolResolver
	renderer *Renderer
	opts     Options
	out      io.Writer
	recorder Recorder
	log      *logrus.Entry

	fstack  [2 * MaxFStackDepth]FuncFrame
	kraw    [MaxKStackDepth]KernelFrame
	kstack  [MaxKStackDepth]KernelFrame
	entries [2*MaxFStackDepth + MaxKStackDepth]Entry
	buf     bytes.Buffer
}

// NewHandler wires the pipeline. symb and recorder are optional.
func NewHandler(funcs FuncTable, syms SymbolResolver, symb Symbolizer, opts Options, out io.Writer, recorder Recorder, log *logrus.Entry) *Handler {
	return &Handler{
		funcs:    funcs,
		syms:     syms,
		renderer: NewRenderer(symb, opts.Verbose, log),
		opts:     opts,
		out:      out,
		recorder: recorder,
		log:      log,
	}
}

// HandleSample decodes a raw ring buffer sample and handles it. It reports
// whether the sample was an error stack that got printed.
func (h *Handler) HandleSample(data []byte) (bool, error) {
	s, err := DecodeCallStack(data)
	if err != nil {
		return false, err
	}
	if !s.IsError {
		return false, nil
	}
	if err := h.Handle(s); err != nil {
		return false, err
	}
	return true, nil
}

// Handle reconstructs, reconciles and prints one call stack. Records
// that are not errors are ignored.
func (h *Handler) Handle(s *CallStack) error {
	if !s.IsError {
		return nil
	}

	if h.opts.Debug {
		h.log.Debugf("GOT ERROR STACK (depth %d): depth %d, max depth %d, stitched %t",
			s.MaxDepth, s.Depth, s.MaxDepth, s.Stitched())
		if s.Saved != nil {
			h.log.Debugf("saved depth %d, saved max depth %d", s.Saved.Depth, s.Saved.MaxDepth)
		}
	}

	fstack, err := BuildFuncStack(h.fstack[:0], h.funcs, s)
	if err != nil {
		return errors.Wrap(err, "failed to build function stack")
	}
	kstack := BuildKernelStack(h.kstack[:0], h.kraw[:0], h.syms, s, h.opts.Verbose)

	if h.opts.Debug {
		h.log.Debugf("FSTACK (%d items), KSTACK (%d items out of original %d)",
			len(fstack), len(kstack), s.KStackLen)
	}

	entries := Reconcile(h.entries[:0], fstack, kstack)

	h.buf.Reset()
	for _, e := range entries {
		if err := h.renderer.RenderEntry(&h.buf, e); err != nil {
			return errors.Wrap(err, "failed to render entry")
		}
	}
	h.buf.WriteByte('\n')

	if _, err := h.out.Write(h.buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write stack")
	}

	if h.recorder != nil {
		if err := h.recorder.InsertErrorStack(h.report(fstack, s)); err != nil {
			h.log.Warnf("Failed to record error stack: %v", err)
		}
	}

	return nil
}

func (h *Handler) report(fstack []FuncFrame, s *CallStack) *Report {
	r := &Report{
		Timestamp: time.Now(),
		Depth:     len(fstack),
		Stitched:  s.Stitched(),
		Text:      h.buf.String(),
	}
	if len(fstack) > 0 {
		r.EntryFunc = fstack[0].Name
		r.Result = fstack[0].Res
		r.ErrName, _ = ErrnoName(fstack[0].Res)
	}
	return r
}
