// Package attach decides which kernel functions to trace and attaches the
// fentry/fexit programs that build call stacks on the BPF side.
package attach

import (
	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/jnesss/errsnoop/types"
)

// Selector matches kernel function names against allow, deny and entry
// globs. Entry globs are implicitly allowed.
type Selector struct {
	allow []glob.Glob
	deny  []glob.Glob
	entry []glob.Glob
}

// NewSelector compiles the glob lists.
func NewSelector(entry, allow, deny []string) (*Selector, error) {
	s := &Selector{}
	var err error

	if s.entry, err = compileAll(entry); err != nil {
		return nil, errors.Wrap(err, "invalid entry glob")
	}
	if s.allow, err = compileAll(allow); err != nil {
		return nil, errors.Wrap(err, "invalid allow glob")
	}
	if s.deny, err = compileAll(deny); err != nil {
		return nil, errors.Wrap(err, "invalid deny glob")
	}
	s.allow = append(s.allow, s.entry...)

	return s, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "%q", p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Allowed reports whether name should be traced. Deny globs win.
func (s *Selector) Allowed(name string) bool {
	if matchAny(s.deny, name) {
		return false
	}
	return matchAny(s.allow, name)
}

// IsEntry reports whether name starts a traced call chain.
func (s *Selector) IsEntry(name string) bool {
	return matchAny(s.entry, name)
}

// Funcs is the dense id -> function table shared with the BPF side. The
// index of a function is its id.
type Funcs []types.FuncInfo

// Func implements stack.FuncTable.
func (f Funcs) Func(id uint32) (types.FuncInfo, bool) {
	if int(id) >= len(f) {
		return types.FuncInfo{}, false
	}
	return f[id], true
}
