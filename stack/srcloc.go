package stack

import "strings"

// Top-level directories of the Linux source tree, checked in order.
var linuxSourceDirs = []string{
	"arch/", "kernel/", "include/", "block/", "fs/", "net/",
	"drivers/", "mm/", "ipc/", "security/", "lib/", "crypto/",
	"certs/", "init/", "scripts/", "sound/", "tools/",
	"usr/", "virt/",
}

// TrimSourcePath strips the build root from a kernel source path, so
// "/build/tmp/xyz/kernel/sched/core.c" becomes "kernel/sched/core.c".
// Paths outside a known source directory are returned unchanged.
func TrimSourcePath(path string) string {
	for _, dir := range linuxSourceDirs {
		if idx := strings.Index(path, dir); idx >= 0 {
			return path[idx:]
		}
	}
	return path
}
