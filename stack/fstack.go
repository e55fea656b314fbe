package stack

import (
	"github.com/pkg/errors"

	"github.com/jnesss/errsnoop/types"
)

// ErrUnknownFunc is returned when a record references a function id the
// attacher never published. It indicates producer/consumer disagreement.
var ErrUnknownFunc = errors.New("unknown function id")

// FuncTable resolves function ids recorded by the BPF side.
type FuncTable interface {
	Func(id uint32) (types.FuncInfo, bool)
}

// FuncFrame is one entry of the logical (fentry/fexit) call stack.
type FuncFrame struct {
	Name     string
	Res      int64
	Lat      int64 // nanoseconds, valid only when Finished
	Finished bool
	Stitched bool
}

// BuildFuncStack reconstructs the logical call chain of s, outermost call
// first, appending into dst[:0]. Stitched frames from a saved snapshot
// follow the live ones.
func BuildFuncStack(dst []FuncFrame, funcs FuncTable, s *CallStack) ([]FuncFrame, error) {
	dst = dst[:0]

	for i := uint32(0); i < s.MaxDepth; i++ {
		info, err := lookupFunc(funcs, s.FuncIDs[i])
		if err != nil {
			return nil, err
		}

		frame := FuncFrame{
			Name:     info.Name,
			Res:      decodeResult(info.Flags, s.FuncRes[i]),
			Finished: i >= s.Depth,
		}
		if frame.Finished {
			frame.Lat = int64(s.FuncLat[i])
		}
		dst = append(dst, frame)
	}

	if s.Saved == nil {
		return dst, nil
	}

	// Start one frame early so both snapshots share the seam call.
	saved := s.Saved
	for i := saved.Depth - 1; i < saved.MaxDepth; i++ {
		info, err := lookupFunc(funcs, saved.IDs[i])
		if err != nil {
			return nil, err
		}

		dst = append(dst, FuncFrame{
			Name:     info.Name,
			Res:      decodeResult(info.Flags, saved.Res[i]),
			Lat:      int64(saved.Lat[i]),
			Finished: true,
			Stitched: true,
		})
	}

	return dst, nil
}

func lookupFunc(funcs FuncTable, id uint32) (types.FuncInfo, error) {
	info, ok := funcs.Func(id)
	if !ok {
		return types.FuncInfo{}, errors.Wrapf(ErrUnknownFunc, "id %d", id)
	}
	return info, nil
}

// decodeResult interprets the raw 64-bit register value according to the
// function's return type.
func decodeResult(flags types.FuncFlags, res uint64) int64 {
	if flags.Has(types.FuncNeedsSignExt) {
		return int64(int32(uint32(res)))
	}
	return int64(res)
}
