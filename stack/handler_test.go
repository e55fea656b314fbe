package stack

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/errsnoop/types"
)

type captureRecorder struct {
	reports []*Report
	err     error
}

func (c *captureRecorder) InsertErrorStack(r *Report) error {
	c.reports = append(c.reports, r)
	return c.err
}

var handlerFuncs = fakeFuncs{
	0: {Name: "func_a", Flags: types.FuncNeedsSignExt | types.FuncIsEntry},
	1: {Name: "func_b", Flags: types.FuncNeedsSignExt},
}

// errorStack is func_a -> func_b, both returned -ENOENT.
func errorStack() *CallStack {
	s := &CallStack{IsError: true, Depth: 0, MaxDepth: 2}
	s.FuncIDs[0], s.FuncIDs[1] = 0, 1
	s.FuncRes[0], s.FuncRes[1] = 0xfffffffe, 0xfffffffe
	s.FuncLat[0], s.FuncLat[1] = 2000000, 1000000
	return withKStack(s, addrA+0x10, addrB+0x20)
}

const errorStackText = "         2000us [-ENOENT]    func_a+0x10\n" +
	"         1000us [-ENOENT]    func_b+0x20\n" +
	"\n"

func newTestHandler(t *testing.T, opts Options, rec Recorder) (*Handler, *bytes.Buffer) {
	var out bytes.Buffer
	return NewHandler(handlerFuncs, testSyms(t), nil, opts, &out, rec, testLogger()), &out
}

func TestHandlerPrintsErrorStack(t *testing.T) {
	rec := &captureRecorder{}
	h, out := newTestHandler(t, Options{}, rec)

	require.NoError(t, h.Handle(errorStack()))
	assert.Equal(t, errorStackText, out.String())

	require.Len(t, rec.reports, 1)
	r := rec.reports[0]
	assert.Equal(t, "func_a", r.EntryFunc)
	assert.Equal(t, int64(-2), r.Result)
	assert.Equal(t, "ENOENT", r.ErrName)
	assert.Equal(t, 2, r.Depth)
	assert.False(t, r.Stitched)
	assert.Equal(t, errorStackText, r.Text)
	assert.False(t, r.Timestamp.IsZero())
}

func TestHandlerIgnoresNonErrorRecords(t *testing.T) {
	rec := &captureRecorder{}
	h, out := newTestHandler(t, Options{}, rec)

	s := errorStack()
	s.IsError = false
	require.NoError(t, h.Handle(s))
	assert.Empty(t, out.String())
	assert.Empty(t, rec.reports)
}

func TestHandlerUnknownFunction(t *testing.T) {
	rec := &captureRecorder{}
	h, out := newTestHandler(t, Options{Debug: true}, rec)

	s := errorStack()
	s.FuncIDs[1] = 42
	err := h.Handle(s)
	assert.ErrorIs(t, err, ErrUnknownFunc)
	assert.Empty(t, out.String())
	assert.Empty(t, rec.reports)

	// the handler keeps working afterwards
	require.NoError(t, h.Handle(errorStack()))
	assert.Equal(t, errorStackText, out.String())
}

func TestHandlerRecorderFailureIsNotFatal(t *testing.T) {
	rec := &captureRecorder{err: errors.New("disk full")}
	h, out := newTestHandler(t, Options{}, rec)

	require.NoError(t, h.Handle(errorStack()))
	assert.Equal(t, errorStackText, out.String())
}

func TestHandlerWithoutRecorder(t *testing.T) {
	h, out := newTestHandler(t, Options{}, nil)
	require.NoError(t, h.Handle(errorStack()))
	assert.Equal(t, errorStackText, out.String())
}

func TestHandleSample(t *testing.T) {
	h, out := newTestHandler(t, Options{}, nil)

	raw := &rawCallStack{IsErr: 1, MaxDepth: 2}
	raw.FuncIDs[0], raw.FuncIDs[1] = 0, 1
	raw.FuncRes[0], raw.FuncRes[1] = 0xfffffffe, 0xfffffffe
	raw.FuncLat[0], raw.FuncLat[1] = 2000000, 1000000
	raw.KStack[0], raw.KStack[1] = addrB+0x20, addrA+0x10
	raw.KStackSz = 2 * 8

	reported, err := h.HandleSample(encode(t, raw))
	require.NoError(t, err)
	assert.True(t, reported)
	assert.Equal(t, errorStackText, out.String())

	raw.IsErr = 0
	reported, err = h.HandleSample(encode(t, raw))
	require.NoError(t, err)
	assert.False(t, reported)
	assert.Equal(t, errorStackText, out.String())

	_, err = h.HandleSample([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandlerStitchedReport(t *testing.T) {
	rec := &captureRecorder{}
	h, out := newTestHandler(t, Options{Verbose: true}, rec)

	s := &CallStack{IsError: true, Depth: 1, MaxDepth: 1}
	s.Saved = &SavedStack{Depth: 2, MaxDepth: 2}
	s.Saved.IDs[1] = 1
	s.Saved.Res[1] = 0xfffffffe
	s.Saved.Lat[1] = 3000

	require.NoError(t, h.Handle(s))
	assert.Contains(t, out.String(), "!*          3us [-ENOENT]")

	require.Len(t, rec.reports, 1)
	assert.True(t, rec.reports[0].Stitched)
	assert.Equal(t, 2, rec.reports[0].Depth)
}

func TestHandlerUnresolvedFrameHasPlaceholder(t *testing.T) {
	h, out := newTestHandler(t, Options{}, nil)

	s := errorStack()
	withKStack(s, addrA+0x10, addrUnres, addrB+0x20)
	require.NoError(t, h.Handle(s))

	want := "         2000us [-ENOENT]    func_a+0x10\n" +
		"                             0x1000\n" +
		"         1000us [-ENOENT]    func_b+0x20\n" +
		"\n"
	assert.Equal(t, want, out.String())
	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n\n"), "\n") {
		assert.NotEmpty(t, strings.TrimSpace(line))
	}
}
