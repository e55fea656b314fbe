package stack

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnesss/errsnoop/ksyms"
	"github.com/jnesss/errsnoop/types"
)

type fakeFuncs map[uint32]types.FuncInfo

func (f fakeFuncs) Func(id uint32) (types.FuncInfo, bool) {
	info, ok := f[id]
	return info, ok
}

const testKallsyms = `
ffffffff81000000 T func_a
ffffffff81000100 T func_b
ffffffff81000200 T bpf_get_stack_raw_tp
ffffffff81000300 T func_c
ffffffffa0000000 t bpf_trampoline_123
ffffffffa0001000 t bpf_prog_abc_handler
`

const (
	addrA     = 0xffffffff81000000
	addrB     = 0xffffffff81000100
	addrGetSt = 0xffffffff81000200
	addrC     = 0xffffffff81000300
	addrTramp = 0xffffffffa0000000
	addrProg  = 0xffffffffa0001000
	addrUnres = 0x1000
)

func testSyms(t *testing.T) *ksyms.Table {
	t.Helper()
	table, err := ksyms.Parse(strings.NewReader(testKallsyms))
	require.NoError(t, err)
	return table
}

func encode(t *testing.T, raw *rawCallStack) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, raw))
	return buf.Bytes()
}

// withKStack stores addrs, given in call order, the way the stack walker
// does: most recent frame first.
func withKStack(s *CallStack, addrs ...uint64) *CallStack {
	for i, addr := range addrs {
		s.KStack[len(addrs)-1-i] = addr
	}
	s.KStackLen = len(addrs)
	return s
}
