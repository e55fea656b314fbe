package attach

import (
	"github.com/cilium/ebpf/btf"

	"github.com/jnesss/errsnoop/types"
)

// FuncFlagsForProto classifies a function by its return type:
//   - void, unsigned, bool and sub-4-byte integers can't signal failure
//   - pointers can, through ERR_PTR, and need no sign extension
//   - 4-byte signed integers are truncated in a 64-bit register and need
//     sign extension before they can be compared against -errno
func FuncFlagsForProto(proto *btf.FuncProto) types.FuncFlags {
	if proto == nil || proto.Return == nil {
		return types.FuncCantFail
	}

	switch t := btf.UnderlyingType(proto.Return).(type) {
	case *btf.Void:
		return types.FuncCantFail
	case *btf.Pointer:
		return types.FuncRetPtr
	case *btf.Int:
		if t.Encoding&btf.Signed == 0 {
			return types.FuncCantFail
		}
		return sizeFlags(t.Size)
	case *btf.Enum:
		return sizeFlags(t.Size)
	}
	return 0
}

func sizeFlags(size uint32) types.FuncFlags {
	switch {
	case size < 4:
		return types.FuncCantFail
	case size == 4:
		return types.FuncNeedsSignExt
	}
	return 0
}
