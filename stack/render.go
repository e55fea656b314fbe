package stack

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/jnesss/errsnoop/types"
)

const (
	latWidth    = 12
	errWidth    = 12
	srcColumn   = 70
	addrColumns = 18 // " %016x " in verbose mode

	unresolvedName = "??"
)

// Symbolizer maps a kernel address to source locations. Results are
// ordered innermost inlined function first; the last element is the
// function that physically contains the address.
type Symbolizer interface {
	Symbolize(addr uint64) ([]types.SourceLoc, error)
}

// Renderer formats reconciled entries into display lines.
type Renderer struct {
	symb    Symbolizer
	verbose bool
	log     *logrus.Entry
}

// NewRenderer creates a renderer. symb may be nil to disable source
// line symbolization.
func NewRenderer(symb Symbolizer, verbose bool, log *logrus.Entry) *Renderer {
	return &Renderer{symb: symb, verbose: verbose, log: log}
}

// FormatResult renders a function result the way it appears in the
// result column: [NULL], [-ENOENT] or the raw number.
func FormatResult(res int64) string {
	if res == 0 {
		return "[NULL]"
	}
	if name, ok := ErrnoName(res); ok {
		return "[-" + name + "]"
	}
	return fmt.Sprintf("[%d]", res)
}

// RenderEntry writes one entry, plus a continuation line for every
// inlined call site, to w.
func (r *Renderer) RenderEntry(w io.Writer, e Entry) error {
	f, k := e.Func, e.Kernel

	var locs []types.SourceLoc
	if r.symb != nil && k != nil && !k.Filtered {
		var err error
		locs, err = r.symb.Symbolize(k.Addr)
		if err != nil {
			r.log.Debugf("Failed to symbolize %x: %v", k.Addr, err)
			locs = nil
		}
	}

	line := make([]byte, 0, 160)

	// missing kernel frame should be rare: a bug or a failed stack walk
	if k == nil {
		line = append(line, '!')
	} else {
		line = append(line, ' ')
	}
	if f != nil && f.Stitched {
		line = append(line, '*', ' ')
	} else {
		line = append(line, ' ', ' ')
	}

	switch {
	case f != nil && !f.Finished:
		line = fmt.Appendf(line, "%*s %-*s ", latWidth, "...", errWidth, "[...]")
	case f != nil:
		line = fmt.Appendf(line, "%*dus ", latWidth-2, f.Lat/1000)
		line = fmt.Appendf(line, "%-*s ", errWidth, FormatResult(f.Res))
	default:
		line = fmt.Appendf(line, "%*s ", latWidth+1+errWidth, "")
	}

	srcOff := srcColumn
	if r.verbose {
		srcOff += addrColumns
		switch {
		case k != nil && k.Filtered:
			line = fmt.Appendf(line, "~%016x ", k.Addr)
		case k != nil:
			line = fmt.Appendf(line, " %016x ", k.Addr)
		default:
			line = fmt.Appendf(line, " %16s ", "")
		}
	}

	var fname string
	switch {
	case k != nil && k.Sym != nil:
		fname = k.Sym.Name
	case f != nil:
		fname = f.Name
	case r.verbose:
		// the address column already holds the address
		fname = unresolvedName
	default:
		fname = fmt.Sprintf("0x%x", k.Addr)
	}

	funcOff := len(line)
	line = append(line, fname...)
	if k != nil && k.Sym != nil {
		line = fmt.Appendf(line, "+0x%x", k.Offset())
	}

	if len(locs) > 0 {
		loc := locs[len(locs)-1]
		line = fmt.Appendf(line, " %*s(", padTo(len(line), srcOff), "")
		if loc.Func != fname {
			line = fmt.Appendf(line, "%s @ ", loc.Func)
		}
		line = fmt.Appendf(line, "%s)", TrimSourcePath(loc.Line))
	}
	line = append(line, '\n')

	for i := len(locs) - 2; i >= 0; i-- {
		start := len(line)
		line = fmt.Appendf(line, "%*s. %s", funcOff, "", locs[i].Func)
		line = fmt.Appendf(line, " %*s(%s)\n", padTo(len(line)-start, srcOff), "", TrimSourcePath(locs[i].Line))
	}

	_, err := w.Write(line)
	return err
}

func padTo(pos, column int) int {
	if pos < column {
		return column - pos
	}
	return 0
}
