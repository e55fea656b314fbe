package stack

import (
	"strings"

	"github.com/jnesss/errsnoop/ksyms"
)

// ftraceOffset is where a traced function calls into its BPF trampoline.
const ftraceOffset = 0x5

const (
	bpfTrampolinePrefix = "bpf_trampoline_"
	bpfProgPrefix       = "bpf_prog_"
	stackCaptureHelper  = "bpf_get_stack_raw_tp"
)

// SymbolResolver maps a kernel address to the nearest preceding symbol.
type SymbolResolver interface {
	Resolve(addr uint64) *ksyms.Symbol
}

// KernelFrame is one entry of the raw kernel stack walk.
type KernelFrame struct {
	Sym  *ksyms.Symbol // nil if the address could not be resolved
	Addr uint64
	// Filtered frames are instrumentation artifacts, kept only in verbose mode.
	Filtered bool
}

// Offset returns the frame's offset within its symbol.
func (f *KernelFrame) Offset() uint64 {
	if f.Sym == nil {
		return 0
	}
	return f.Addr - f.Sym.Addr
}

// Name returns the resolved symbol name or an empty string.
func (f *KernelFrame) Name() string {
	if f.Sym == nil {
		return ""
	}
	return f.Sym.Name
}

func (f *KernelFrame) isTrampoline() bool {
	return f.Sym != nil && hasPrefixThen(f.Sym.Name, bpfTrampolinePrefix, isDigit)
}

func (f *KernelFrame) isBPFProg() bool {
	return f.Sym != nil && hasPrefixThen(f.Sym.Name, bpfProgPrefix, isHexDigit)
}

func (f *KernelFrame) isArtifact() bool {
	return f.isTrampoline() || f.isBPFProg() || f.Sym.Name == stackCaptureHelper
}

// BuildKernelStack resolves and cleans up the raw stack walk of s,
// returning frames in call order (outermost first) appended into dst[:0].
// The scratch slice tmp must have room for s.KStackLen frames.
func BuildKernelStack(dst, tmp []KernelFrame, syms SymbolResolver, s *CallStack, verbose bool) []KernelFrame {
	n := s.KStackLen

	// The walker records most recent frames first.
	tmp = tmp[:0]
	for i := n - 1; i >= 0; i-- {
		addr := s.KStack[i]
		tmp = append(tmp, KernelFrame{Addr: addr, Sym: syms.Resolve(addr)})
	}

	dst = dst[:0]
	for i := 0; i < n; i++ {
		item := tmp[i]
		if item.Sym == nil {
			dst = append(dst, item)
			continue
		}

		// A traced function shows up as
		//     func+0x5                  (call into the trampoline)
		//     bpf_trampoline_6442494949_0+0x6d
		//     func+0x3f                 (real continuation)
		// Only the last frame carries information.
		if i+2 < n && tmp[i+1].isTrampoline() &&
			sameSymbol(tmp[i+2].Sym, item.Sym) &&
			item.Offset() == ftraceOffset {
			if verbose {
				item.Filtered = true
				dst = append(dst, item)
				continue
			}
			// The trampoline is skipped too; func+0x3f is handled next.
			i++
			continue
		}

		// Our own BPF programs and the helper that captured the stack
		// are always present; hide them unless asked for.
		if item.isArtifact() {
			if verbose {
				item.Filtered = true
				dst = append(dst, item)
			}
			continue
		}

		dst = append(dst, item)
	}

	return dst
}

func sameSymbol(a, b *ksyms.Symbol) bool {
	return a != nil && b != nil && a.Addr == b.Addr && a.Name == b.Name
}

func hasPrefixThen(name, prefix string, next func(byte) bool) bool {
	return strings.HasPrefix(name, prefix) && len(name) > len(prefix) && next(name[len(prefix)])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
