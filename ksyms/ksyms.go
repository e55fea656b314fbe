// Package ksyms resolves kernel addresses using /proc/kallsyms.
package ksyms

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const kallsymsPath = "/proc/kallsyms"

// Symbol is a named kernel symbol and its start address.
type Symbol struct {
	Name   string
	Addr   uint64
	Module string // empty for vmlinux symbols
}

// Table is an address-sorted kernel symbol table.
type Table struct {
	syms   []Symbol
	byName map[string]int
}

// Load reads the running kernel's symbol table. Addresses are only
// visible to privileged users.
func Load() (*Table, error) {
	f, err := os.Open(kallsymsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open kallsyms")
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads symbols in kallsyms format:
//
//	ffffffff81000000 T _text
//	ffffffffc0a01000 t nf_nat_ipv4_fn	[nf_nat]
func Parse(r io.Reader) (*Table, error) {
	t := &Table{
		syms:   make([]Symbol, 0, 1<<16),
		byName: make(map[string]int),
	}

	s := bufio.NewScanner(r)
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil || addr == 0 {
			continue
		}

		sym := Symbol{Name: parts[2], Addr: addr}
		if len(parts) > 3 {
			sym.Module = strings.Trim(parts[3], "[]")
		}
		t.syms = append(t.syms, sym)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read kallsyms")
	}
	if len(t.syms) == 0 {
		return nil, errors.New("no kernel symbols with addresses, are you root?")
	}

	sort.SliceStable(t.syms, func(i, j int) bool { return t.syms[i].Addr < t.syms[j].Addr })
	for i := range t.syms {
		if _, ok := t.byName[t.syms[i].Name]; !ok {
			t.byName[t.syms[i].Name] = i
		}
	}

	return t, nil
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	return len(t.syms)
}

// Resolve returns the symbol with the greatest address <= addr, or nil.
func (t *Table) Resolve(addr uint64) *Symbol {
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	if i == 0 {
		return nil
	}
	return &t.syms[i-1]
}

// Lookup finds a symbol by exact name.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.syms[i], true
}
