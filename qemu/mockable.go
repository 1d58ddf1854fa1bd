// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package qemu

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

var (
	execCommand = exec.Command
	unixKill    = unix.Kill
)
