//go:build windows

package backend

import (
	"fmt"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {
	// Process groups are handled differently on Windows.
	_ = cmd
}

// terminate kills outright; Windows has no SIGTERM equivalent for console
// processes started this way.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return cmd.Process.Kill()
}
