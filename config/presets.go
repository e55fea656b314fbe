package config

import "sort"

// Preset is a named set of globs for a common use case.
type Preset struct {
	Entry []string
	Allow []string
	Deny  []string
}

var presets = map[string]Preset{
	"bpf": {
		Entry: []string{"*_sys_bpf"},
		Allow: []string{
			"*bpf_*", "do_check*", "reg_*", "check_*", "btf_*", "_btf_*",
			"__btf_*", "find_*", "resolve_*", "convert_*", "release_*",
			"adjust_*", "verifier_*", "verbose_*", "type_*", "arg_*",
			"sanitize_*", "print_*", "map_*", "ringbuf_*", "array_*",
			"__vmalloc_*", "__alloc*", "pcpu_*", "memdup_*",
			"copy_*", "_copy_*", "raw_copy_*",
		},
		Deny: []string{
			"bpf_get_smp_processor_id", "mm_init", "migrate_enable",
			"migrate_disable", "rcu_read_lock_strict", "rcu_read_unlock_strict",
			"__bpf_prog_enter", "__bpf_prog_exit", "__bpf_prog_enter_sleepable",
			"__bpf_prog_exit_sleepable", "__cant_migrate",
			"bpf_get_current_pid_tgid", "__bpf_prog_run_args",
			"__x64_sys_select", "__x64_sys_epoll_wait", "__x64_sys_ppoll",
			// too noisy
			"bpf_lsm_*", "check_cfs_rq_runtime", "find_busiest_group", "find_vma*",
		},
	},
	"perf": {
		Entry: []string{"*_sys_perf_event_open"},
		Allow: []string{"perf_*"},
	},
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a built-in preset by name.
func GetPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}
