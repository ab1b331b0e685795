//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

// execve emulates process replacement where execve(2) is unavailable: the child
// inherits stdio and this process exits with its status.
func execve(path string, argv []string, env []string) error {
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitStatus(exitErr))
		}
		return err
	}
	os.Exit(0)
	return nil
}
