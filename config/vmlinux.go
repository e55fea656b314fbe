package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var vmlinuxLocations = []string{
	"/boot/vmlinux-%[1]s",
	"/lib/modules/%[1]s/vmlinux-%[1]s",
	"/lib/modules/%[1]s/build/vmlinux",
	"/usr/lib/modules/%[1]s/kernel/vmlinux",
	"/usr/lib/debug/boot/vmlinux-%[1]s",
	"/usr/lib/debug/boot/vmlinux-%[1]s.debug",
	"/usr/lib/debug/lib/modules/%[1]s/vmlinux",
}

// KernelRelease returns the running kernel's release string.
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", errors.Wrap(err, "uname failed")
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// FindVmlinux returns the first readable vmlinux image for release.
func FindVmlinux(release string) (string, error) {
	for _, loc := range vmlinuxLocations {
		path := fmt.Sprintf(loc, release)
		if f, err := os.Open(path); err == nil {
			f.Close()
			return path, nil
		}
	}
	return "", errors.Errorf("failed to locate vmlinux image for %s, use -k <vmlinux-path> to specify it explicitly", release)
}
