//go:build !windows

package procexec

import "os/exec"

func setCmdLine(cmd *exec.Cmd, line string) {}
