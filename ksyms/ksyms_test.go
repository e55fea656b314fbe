package ksyms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `ffffffff81000000 T _text
ffffffff81000100 T _stext
0000000000000000 A fixed_percpu_data
ffffffff81200000 t do_sys_open
ffffffff81100000 T vfs_open
garbage line
ffffffffc0a01000 t nf_nat_ipv4_fn	[nf_nat]
`

func TestParse(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	// zero address and malformed lines are skipped
	assert.Equal(t, 5, table.Len())
}

func TestResolve(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	tests := []struct {
		addr uint64
		name string
	}{
		{0xffffffff81000000, "_text"},
		{0xffffffff810000ff, "_text"},
		{0xffffffff81100010, "vfs_open"},
		{0xffffffff81200042, "do_sys_open"},
		{0xffffffffc0a01234, "nf_nat_ipv4_fn"},
		{0xffffffffffffffff, "nf_nat_ipv4_fn"},
	}
	for _, tt := range tests {
		sym := table.Resolve(tt.addr)
		require.NotNil(t, sym, "%x", tt.addr)
		assert.Equal(t, tt.name, sym.Name, "%x", tt.addr)
	}

	assert.Nil(t, table.Resolve(0x1000))
}

func TestLookup(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	sym, ok := table.Lookup("_stext")
	require.True(t, ok)
	assert.Equal(t, uint64(0xffffffff81000100), sym.Addr)
	assert.Empty(t, sym.Module)

	sym, ok = table.Lookup("nf_nat_ipv4_fn")
	require.True(t, ok)
	assert.Equal(t, "nf_nat", sym.Module)

	_, ok = table.Lookup("missing")
	assert.False(t, ok)
}

func TestParseWithoutAddresses(t *testing.T) {
	// what an unprivileged reader sees
	_, err := Parse(strings.NewReader("0000000000000000 T _text\n0000000000000000 T _stext\n"))
	assert.Error(t, err)
}
