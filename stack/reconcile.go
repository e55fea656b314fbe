package stack

// Entry is one line of the reconciled output. Either side may be nil, but
// never both.
type Entry struct {
	Func   *FuncFrame
	Kernel *KernelFrame
}

// Reconcile merges the logical and kernel stacks, both in call order, into
// dst[:0]. Frames are paired by name. On a mismatch the kernel side is
// drained first, on the assumption that it is a superset of the logical
// stack with extra unresolved or artifact frames.
//
// If the kernel walk is missing a frame that exists on the logical side,
// this drains the rest of the kernel stack before that logical frame and
// the output becomes misaligned. Truncated stack walks can trigger this.
func Reconcile(dst []Entry, fstack []FuncFrame, kstack []KernelFrame) []Entry {
	dst = dst[:0]

	i, j := 0, 0
	for i < len(fstack) {
		f := &fstack[i]

		if j >= len(kstack) {
			// no kernel stack, or it ran out early
			dst = append(dst, Entry{Func: f})
			i++
			continue
		}

		k := &kstack[j]
		if k.Sym == nil || k.Filtered || k.Sym.Name != f.Name {
			dst = append(dst, Entry{Kernel: k})
			j++
			continue
		}

		dst = append(dst, Entry{Func: f, Kernel: k})
		i++
		j++
	}

	for ; j < len(kstack); j++ {
		dst = append(dst, Entry{Kernel: &kstack[j]})
	}

	return dst
}
