package types

// FuncFlags describe how a traced function's return value is interpreted.
// The values are shared with the BPF side through the func_flags map.
type FuncFlags uint32

const (
	FuncIsEntry      FuncFlags = 0x1 // Entry point, starts a new call stack
	FuncCantFail     FuncFlags = 0x2 // Return type can't carry an error
	FuncNeedsSignExt FuncFlags = 0x4 // 32-bit signed return, extend before use
	FuncRetPtr       FuncFlags = 0x8 // Pointer return, errors are ERR_PTR values
)

func (f FuncFlags) Has(flag FuncFlags) bool {
	return f&flag != 0
}

// FuncInfo is the per-function metadata published by the attacher.
type FuncInfo struct {
	Name  string
	Addr  uint64
	Flags FuncFlags
}

// SourceLoc is a single symbolization hit for an address.
type SourceLoc struct {
	Func string // Function (or inlined function) name
	Line string // "path/to/file.c:123"
}
