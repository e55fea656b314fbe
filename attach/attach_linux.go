//go:build linux

package attach

import (
	"sort"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jnesss/errsnoop/ksyms"
	"github.com/jnesss/errsnoop/types"
)

// Names of objects in the BPF ELF.
const (
	fentryProg     = "fentry_stub"
	fexitProg      = "fexit_stub"
	funcIPsMap     = "func_ips"
	funcFlagsMap   = "func_flags"
	ringBufMap     = "rb"
	verboseVar     = "verbose"
	readyVar       = "ready"
	defaultMaxFunc = 50000
)

// Attacher loads the tracing object and attaches one fentry/fexit pair per
// selected kernel function.
type Attacher struct {
	objPath string
	sel     *Selector
	syms    *ksyms.Table
	verbose bool
	log     *logrus.Entry

	spec  *ebpf.CollectionSpec
	coll  *ebpf.Collection
	funcs Funcs
	progs []*ebpf.Collection
	links []link.Link
}

// New creates an attacher for the BPF object at objPath.
func New(objPath string, sel *Selector, syms *ksyms.Table, verbose bool, log *logrus.Entry) *Attacher {
	return &Attacher{
		objPath: objPath,
		sel:     sel,
		syms:    syms,
		verbose: verbose,
		log:     log,
	}
}

// Funcs returns the table of attached functions, indexed by id.
func (a *Attacher) Funcs() Funcs {
	return a.funcs
}

// Prepare enumerates kernel functions from vmlinux BTF and selects the
// ones to trace.
func (a *Attacher) Prepare() error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return errors.Wrap(err, "failed to remove memlock")
	}

	spec, err := ebpf.LoadCollectionSpec(a.objPath)
	if err != nil {
		return errors.Wrapf(err, "failed to load BPF object %s", a.objPath)
	}
	for _, name := range []string{fentryProg, fexitProg} {
		if _, ok := spec.Programs[name]; !ok {
			return errors.Errorf("BPF object has no program %q", name)
		}
	}
	a.spec = spec

	kernel, err := btf.LoadKernelSpec()
	if err != nil {
		return errors.Wrap(err, "failed to load kernel BTF")
	}

	maxFuncs := defaultMaxFunc
	if m, ok := spec.Maps[funcIPsMap]; ok && m.MaxEntries > 0 {
		maxFuncs = int(m.MaxEntries)
	}

	seen := make(map[string]bool)
	iter := kernel.Iterate()
	for iter.Next() {
		fn, ok := iter.Type.(*btf.Func)
		if !ok || seen[fn.Name] || !a.sel.Allowed(fn.Name) {
			continue
		}
		seen[fn.Name] = true

		sym, ok := a.syms.Lookup(fn.Name)
		if !ok {
			a.log.Debugf("Skipping %s: not in kallsyms", fn.Name)
			continue
		}

		proto, _ := fn.Type.(*btf.FuncProto)
		flags := FuncFlagsForProto(proto)
		if a.sel.IsEntry(fn.Name) {
			flags |= types.FuncIsEntry
			if a.verbose {
				a.log.Infof("Function '%s' is marked as an entry point.", fn.Name)
			}
		}

		a.funcs = append(a.funcs, types.FuncInfo{Name: fn.Name, Addr: sym.Addr, Flags: flags})
	}

	if len(a.funcs) == 0 {
		return errors.New("no kernel functions matched the given globs")
	}
	if len(a.funcs) > maxFuncs {
		return errors.Errorf("%d functions selected, at most %d supported", len(a.funcs), maxFuncs)
	}

	// The BPF side binary searches func_ips by address.
	sort.Slice(a.funcs, func(i, j int) bool { return a.funcs[i].Addr < a.funcs[j].Addr })

	a.log.Infof("Selected %d functions for tracing", len(a.funcs))
	return nil
}

// Load creates the shared maps and publishes function metadata to them.
func (a *Attacher) Load() error {
	base := a.spec.Copy()
	base.Programs = nil

	if a.verbose {
		if v, ok := base.Variables[verboseVar]; ok {
			if err := v.Set(true); err != nil {
				return errors.Wrap(err, "failed to set verbose flag")
			}
		}
	}

	coll, err := ebpf.NewCollection(base)
	if err != nil {
		return errors.Wrap(err, "failed to create BPF maps")
	}
	a.coll = coll

	ips, flagsMap := coll.Maps[funcIPsMap], coll.Maps[funcFlagsMap]
	if ips == nil || flagsMap == nil {
		return errors.New("BPF object is missing function metadata maps")
	}
	for id, fn := range a.funcs {
		if err := ips.Update(uint32(id), fn.Addr, ebpf.UpdateAny); err != nil {
			return errors.Wrapf(err, "failed to publish address of %s", fn.Name)
		}
		if err := flagsMap.Update(uint32(id), uint32(fn.Flags), ebpf.UpdateAny); err != nil {
			return errors.Wrapf(err, "failed to publish flags of %s", fn.Name)
		}
	}

	return nil
}

// Attach loads a fentry/fexit pair for every selected function. Functions
// the kernel refuses to trace are skipped with a warning.
func (a *Attacher) Attach() error {
	attached := 0
	for _, fn := range a.funcs {
		if err := a.attachFunc(fn.Name); err != nil {
			a.log.Warnf("Failed to attach to %s: %v", fn.Name, err)
			continue
		}
		attached++
	}

	if attached == 0 {
		return errors.New("failed to attach to any function")
	}
	a.log.Infof("Attached to %d of %d functions", attached, len(a.funcs))
	return nil
}

func (a *Attacher) attachFunc(name string) error {
	spec := &ebpf.CollectionSpec{
		Maps:     a.spec.Maps,
		Programs: make(map[string]*ebpf.ProgramSpec, 2),
		Types:    a.spec.Types,
	}
	for _, prog := range []string{fentryProg, fexitProg} {
		p := a.spec.Programs[prog].Copy()
		p.AttachTo = name
		spec.Programs[prog] = p
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		MapReplacements: a.coll.Maps,
	})
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			a.log.Tracef("Verifier log for %s:\n%+v", name, ve)
		}
		return err
	}
	a.progs = append(a.progs, coll)

	for _, prog := range []string{fentryProg, fexitProg} {
		l, err := link.AttachTracing(link.TracingOptions{Program: coll.Programs[prog]})
		if err != nil {
			return err
		}
		a.links = append(a.links, l)
	}
	return nil
}

// Activate flips the switch that makes the BPF side start recording.
func (a *Attacher) Activate() error {
	v, ok := a.coll.Variables[readyVar]
	if !ok {
		return errors.Errorf("BPF object has no %q variable", readyVar)
	}
	return v.Set(true)
}

// RingBuffer returns the map call stacks are published to.
func (a *Attacher) RingBuffer() (*ebpf.Map, error) {
	m, ok := a.coll.Maps[ringBufMap]
	if !ok {
		return nil, errors.Errorf("BPF object has no %q map", ringBufMap)
	}
	return m, nil
}

// Close detaches all programs and releases BPF objects.
func (a *Attacher) Close() error {
	var result *multierror.Error

	for i := len(a.links) - 1; i >= 0; i-- {
		if err := a.links[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, coll := range a.progs {
		coll.Close()
	}
	if a.coll != nil {
		a.coll.Close()
	}

	return result.ErrorOrNil()
}
