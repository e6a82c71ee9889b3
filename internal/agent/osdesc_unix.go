//go:build linux || darwin || freebsd || netbsd || openbsd

package agent

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// osDescriptor returns "<sysname> <release>", e.g. "Linux 6.8.0".
func osDescriptor() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:])
}
