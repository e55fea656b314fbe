// Package addr2line maps kernel addresses to source lines using the DWARF
// debug info of a vmlinux image.
package addr2line

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/jnesss/errsnoop/types"
)

const textSymbol = "_stext"

// Symbolizer resolves addresses against vmlinux DWARF data.
type Symbolizer struct {
	file    *elf.File
	data    *dwarf.Data
	inlines bool

	// runtime address minus link-time address (KASLR slide)
	slide    uint64
	elfStext uint64

	cache *lru.Cache
}

// Open loads the DWARF data of the vmlinux image at path. When inlines is
// set, results include the chain of inlined call sites.
func Open(path string, inlines bool, cacheSize int) (*Symbolizer, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	data, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "no DWARF data in %s", path)
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Symbolizer{
		file:    f,
		data:    data,
		inlines: inlines,
		cache:   cache,
	}

	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			if sym.Name == textSymbol {
				s.elfStext = sym.Value
				break
			}
		}
	}

	return s, nil
}

// SetRuntimeText records the runtime address of _stext so addresses from
// a KASLR-relocated kernel map back onto the image.
func (s *Symbolizer) SetRuntimeText(addr uint64) {
	if s.elfStext == 0 {
		return
	}
	s.slide = addr - s.elfStext
	s.cache.Purge()
}

// Close releases the vmlinux image.
func (s *Symbolizer) Close() error {
	return s.file.Close()
}

// Symbolize returns source locations for addr, innermost inlined function
// first. The last element is the function containing addr. An address
// without line info yields no locations and no error.
func (s *Symbolizer) Symbolize(addr uint64) ([]types.SourceLoc, error) {
	if v, ok := s.cache.Get(addr); ok {
		return v.([]types.SourceLoc), nil
	}

	locs, err := s.symbolize(addr - s.slide)
	if err != nil {
		return nil, err
	}
	s.cache.Add(addr, locs)
	return locs, nil
}

func (s *Symbolizer) symbolize(pc uint64) ([]types.SourceLoc, error) {
	r := s.data.Reader()
	cu, err := r.SeekPC(pc)
	if err == dwarf.ErrUnknownPC {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find unit for %x", pc)
	}

	lr, err := s.data.LineReader(cu)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read line table for %x", pc)
	}
	if lr == nil {
		return nil, nil
	}
	var le dwarf.LineEntry
	if err := lr.SeekPC(pc, &le); err != nil {
		if err == dwarf.ErrUnknownPC {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to find line for %x", pc)
	}

	chain := s.scopes(r, pc)
	if len(chain) == 0 {
		return []types.SourceLoc{{Func: "??", Line: formatLine(le.File, le.Line)}}, nil
	}

	inner := chain[len(chain)-1]
	locs := []types.SourceLoc{{Func: s.name(inner), Line: formatLine(le.File, le.Line)}}
	if !s.inlines {
		return locs, nil
	}

	files := lr.Files()
	for i := len(chain) - 1; i > 0; i-- {
		locs = append(locs, types.SourceLoc{
			Func: s.name(chain[i-1]),
			Line: callSite(chain[i], files),
		})
	}
	return locs, nil
}

// scopes returns the subprogram containing pc followed by the inlined
// subroutines containing it, outermost first. r must be positioned at the
// first child of the compilation unit.
func (s *Symbolizer) scopes(r *dwarf.Reader, pc uint64) []*dwarf.Entry {
	var chain []*dwarf.Entry
	depth := 0

	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			if depth < 0 {
				break
			}
			continue
		}

		switch e.Tag {
		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine, dwarf.TagLexDwarfBlock:
			if s.contains(e, pc) {
				if e.Tag != dwarf.TagLexDwarfBlock {
					chain = append(chain, e)
				}
				if e.Children {
					depth++
				}
				continue
			}
		}

		if e.Children {
			r.SkipChildren()
		}
	}

	return chain
}

func (s *Symbolizer) contains(e *dwarf.Entry, pc uint64) bool {
	ranges, err := s.data.Ranges(e)
	if err != nil {
		return false
	}
	for _, rng := range ranges {
		if pc >= rng[0] && pc < rng[1] {
			return true
		}
	}
	return false
}

// name follows abstract origins and declarations to find a DIE's name.
func (s *Symbolizer) name(e *dwarf.Entry) string {
	for i := 0; i < 4 && e != nil; i++ {
		if name, ok := e.Val(dwarf.AttrName).(string); ok {
			return name
		}

		off, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		if !ok {
			off, ok = e.Val(dwarf.AttrSpecification).(dwarf.Offset)
		}
		if !ok {
			break
		}

		r := s.data.Reader()
		r.Seek(off)
		e, _ = r.Next()
	}
	return "??"
}

func callSite(e *dwarf.Entry, files []*dwarf.LineFile) string {
	line, _ := e.Val(dwarf.AttrCallLine).(int64)
	idx, _ := e.Val(dwarf.AttrCallFile).(int64)
	if idx < 0 || int(idx) >= len(files) {
		return formatLine(nil, int(line))
	}
	return formatLine(files[idx], int(line))
}

func formatLine(f *dwarf.LineFile, line int) string {
	if f == nil {
		return fmt.Sprintf("??:%d", line)
	}
	return fmt.Sprintf("%s:%d", f.Name, line)
}
