//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package agent

import "runtime"

func osDescriptor() string { return runtime.GOOS + " " + runtime.GOARCH }
