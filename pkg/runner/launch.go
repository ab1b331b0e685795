package runner

import (
	"errors"
	"fmt"
	"os/exec"
)

// Launcher hands control of the process to the server command.
type Launcher interface {
	LookPath(file string) (string, error)
	Launch(argv []string, env []string) error
}

// ProcessLauncher replaces the current process image, like the shell's `exec "$@"`.
// On success Launch does not return.
type ProcessLauncher struct{}

var _ Launcher = ProcessLauncher{}

func (ProcessLauncher) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (ProcessLauncher) Launch(argv []string, env []string) error {
	if len(argv) == 0 {
		return errors.New("no command to launch")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("resolving %q: %w", argv[0], err)
	}
	return execve(path, argv, env)
}

// FakeLauncher records the launch request. LookPath returns the file unchanged, or
// LookPathErr when set.
type FakeLauncher struct {
	Argv        []string
	Env         []string
	Launched    bool
	Err         error
	LookPathErr error
}

var _ Launcher = &FakeLauncher{}

func (f *FakeLauncher) LookPath(file string) (string, error) {
	if f.LookPathErr != nil {
		return "", f.LookPathErr
	}
	return file, nil
}

func (f *FakeLauncher) Launch(argv []string, env []string) error {
	f.Argv = argv
	f.Env = env
	f.Launched = true
	return f.Err
}
