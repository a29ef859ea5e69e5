//go:build windows

package cli

import "os/exec"

func configureProcAttr(_ *exec.Cmd) {}

// terminate kills the subprocess. Windows has no SIGTERM equivalent for
// console processes started this way.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
