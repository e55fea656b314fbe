package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimSourcePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/build/tmp/xyz/kernel/sched/core.c:1234", "kernel/sched/core.c:1234"},
		{"/usr/src/linux/fs/open.c:12", "fs/open.c:12"},
		{"./include/linux/err.h:36", "include/linux/err.h:36"},
		{"/home/me/proj/main.c:1", "/home/me/proj/main.c:1"},
		{"", ""},
		// arch/ is checked before kernel/
		{"/src/arch/x86/kernel/traps.c:5", "arch/x86/kernel/traps.c:5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TrimSourcePath(tt.in), tt.in)
	}
}
