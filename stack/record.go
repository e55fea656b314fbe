// Package stack turns raw error call-stack records captured by the BPF side
// into rendered, human-readable call chains.
//
// Each record carries two views of the same call chain: the logical stack
// built from fentry/fexit events and the raw kernel stack walk. Both are
// normalized independently and then reconciled into one ordered sequence.
package stack

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Capacities shared with the BPF program.
const (
	MaxFStackDepth = 64
	MaxKStackDepth = 128
)

// ErrMalformed is returned for records that violate the record layout
// invariants (depths beyond capacity, truncated payloads).
var ErrMalformed = errors.New("malformed call stack record")

// rawCallStack mirrors struct call_stack from the BPF program byte for byte.
type rawCallStack struct {
	FuncIDs [MaxFStackDepth]uint32
	FuncRes [MaxFStackDepth]uint64
	FuncLat [MaxFStackDepth]uint64

	Depth    uint32
	MaxDepth uint32
	IsErr    uint8
	_        [3]byte

	SavedDepth    uint32
	SavedMaxDepth uint32
	SavedIDs      [MaxFStackDepth]uint32
	_             [4]byte
	SavedRes      [MaxFStackDepth]uint64
	SavedLat      [MaxFStackDepth]uint64

	KStack   [MaxKStackDepth]uint64
	KStackSz int64
}

// RecordSize is the size in bytes of a single encoded call stack record.
var RecordSize = binary.Size(rawCallStack{})

// SavedStack is an older, deeper logical snapshot carried over when the
// live buffer overflowed and restarted shallower.
type SavedStack struct {
	Depth    uint32
	MaxDepth uint32
	IDs      [MaxFStackDepth]uint32
	Res      [MaxFStackDepth]uint64
	Lat      [MaxFStackDepth]uint64
}

// CallStack is a decoded call stack record.
type CallStack struct {
	IsError bool

	Depth    uint32
	MaxDepth uint32
	FuncIDs  [MaxFStackDepth]uint32
	FuncRes  [MaxFStackDepth]uint64
	FuncLat  [MaxFStackDepth]uint64

	// Saved is nil unless the record carries a stitched snapshot.
	Saved *SavedStack

	KStack    [MaxKStackDepth]uint64
	KStackLen int
}

// Stitched reports whether a carried-over snapshot is present.
func (s *CallStack) Stitched() bool {
	return s.Saved != nil
}

// DecodeCallStack parses a raw ring buffer sample.
func DecodeCallStack(data []byte) (*CallStack, error) {
	if len(data) < RecordSize {
		return nil, errors.Wrapf(ErrMalformed, "short record: %d bytes, want %d", len(data), RecordSize)
	}

	var raw rawCallStack
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse call stack")
	}

	return fromRaw(&raw)
}

func fromRaw(raw *rawCallStack) (*CallStack, error) {
	// Non-error records are dropped unread, so stale fields in them are
	// not worth validating.
	if raw.IsErr == 0 {
		return &CallStack{}, nil
	}

	if raw.MaxDepth > MaxFStackDepth || raw.Depth > raw.MaxDepth {
		return nil, errors.Wrapf(ErrMalformed, "depth %d, max depth %d", raw.Depth, raw.MaxDepth)
	}
	if raw.KStackSz < 0 || raw.KStackSz/8 > MaxKStackDepth {
		return nil, errors.Wrapf(ErrMalformed, "kstack size %d", raw.KStackSz)
	}

	s := &CallStack{
		IsError:   true,
		Depth:     raw.Depth,
		MaxDepth:  raw.MaxDepth,
		FuncIDs:   raw.FuncIDs,
		FuncRes:   raw.FuncRes,
		FuncLat:   raw.FuncLat,
		KStack:    raw.KStack,
		KStackLen: int(raw.KStackSz / 8),
	}

	// The producer signals a stitched snapshot only through this relation.
	// Anything else means the saved fields are stale and must be ignored.
	if raw.MaxDepth+1 == raw.SavedDepth {
		if raw.SavedMaxDepth > MaxFStackDepth || raw.SavedDepth > raw.SavedMaxDepth+1 {
			return nil, errors.Wrapf(ErrMalformed, "saved depth %d, saved max depth %d",
				raw.SavedDepth, raw.SavedMaxDepth)
		}
		s.Saved = &SavedStack{
			Depth:    raw.SavedDepth,
			MaxDepth: raw.SavedMaxDepth,
			IDs:      raw.SavedIDs,
			Res:      raw.SavedRes,
			Lat:      raw.SavedLat,
		}
	}

	return s, nil
}
