package main

import (
	"os"
	"os/user"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// requireRoot fails early instead of letting BPF loading or kallsyms
// parsing report something less obvious.
func requireRoot() error {
	if unix.Geteuid() != 0 {
		return errors.New("errsnoop needs root privileges to load BPF programs and read kernel addresses")
	}
	return nil
}

// getOriginalUser gets the user who invoked sudo
func getOriginalUser() (*user.User, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return nil, nil
	}
	return user.Lookup(sudoUser)
}

// chownToOriginalUser hands files created as root back to the user who
// invoked sudo, so `errsnoop history` works without it. Missing files are
// skipped.
func chownToOriginalUser(paths ...string) error {
	u, err := getOriginalUser()
	if err != nil {
		return errors.Wrap(err, "could not get original user")
	}
	if u == nil {
		return nil
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrap(err, "invalid uid")
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errors.Wrap(err, "invalid gid")
	}

	for _, p := range paths {
		if err := os.Chown(p, uid, gid); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "could not chown %s", p)
		}
	}
	return nil
}
