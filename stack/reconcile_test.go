package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jnesss/errsnoop/ksyms"
)

type entryView struct {
	fn string
	kn string
}

func viewEntries(entries []Entry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		var v entryView
		if e.Func != nil {
			v.fn = e.Func.Name
		}
		if e.Kernel != nil {
			v.kn = e.Kernel.Name()
			if e.Kernel.Sym == nil {
				v.kn = "?"
			}
		}
		views = append(views, v)
	}
	return views
}

func funcFrames(names ...string) []FuncFrame {
	frames := make([]FuncFrame, 0, len(names))
	for _, n := range names {
		frames = append(frames, FuncFrame{Name: n})
	}
	return frames
}

func kernelFrame(name string, addr uint64) KernelFrame {
	return KernelFrame{Sym: &ksyms.Symbol{Name: name, Addr: addr}, Addr: addr + 0x10}
}

func TestReconcile(t *testing.T) {
	a := kernelFrame("a", 0x1000)
	b := kernelFrame("b", 0x2000)
	c := kernelFrame("c", 0x3000)
	unresolved := KernelFrame{Addr: 0x42}
	filteredA := a
	filteredA.Filtered = true

	tests := []struct {
		name   string
		fstack []FuncFrame
		kstack []KernelFrame
		want   []entryView
	}{
		{
			name:   "extra raw frame in between",
			fstack: funcFrames("a", "b"),
			kstack: []KernelFrame{a, c, b},
			want:   []entryView{{"a", "a"}, {"", "c"}, {"b", "b"}},
		},
		{
			name:   "unresolved raw frame",
			fstack: funcFrames("a", "b"),
			kstack: []KernelFrame{a, unresolved, b},
			want:   []entryView{{"a", "a"}, {"", "?"}, {"b", "b"}},
		},
		{
			name:   "raw side exhausted",
			fstack: funcFrames("a", "b", "c"),
			kstack: []KernelFrame{a},
			want:   []entryView{{"a", "a"}, {"b", ""}, {"c", ""}},
		},
		{
			name:   "no raw stack",
			fstack: funcFrames("a"),
			want:   []entryView{{"a", ""}},
		},
		{
			name:   "trailing raw frames",
			fstack: funcFrames("a"),
			kstack: []KernelFrame{a, b, c},
			want:   []entryView{{"a", "a"}, {"", "b"}, {"", "c"}},
		},
		{
			name:   "filtered frames are never paired",
			fstack: funcFrames("a"),
			kstack: []KernelFrame{filteredA, a},
			want:   []entryView{{"", "a"}, {"a", "a"}},
		},
		{
			name:   "missing raw frame drains the raw side",
			fstack: funcFrames("a", "c", "b"),
			kstack: []KernelFrame{a, b},
			want:   []entryView{{"a", "a"}, {"", "b"}, {"c", ""}, {"b", ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(nil, tt.fstack, tt.kstack)
			assert.Equal(t, tt.want, viewEntries(got))
			assert.LessOrEqual(t, len(got), len(tt.fstack)+len(tt.kstack))
		})
	}
}

func TestReconcilePairsInOrder(t *testing.T) {
	fstack := funcFrames("a", "b")
	kstack := []KernelFrame{kernelFrame("a", 0x1000), kernelFrame("b", 0x2000)}

	got := Reconcile(nil, fstack, kstack)
	assert.Len(t, got, 2)
	for i := range got {
		assert.Same(t, &fstack[i], got[i].Func)
		assert.Same(t, &kstack[i], got[i].Kernel)
	}
}
