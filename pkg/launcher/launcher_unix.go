//go:build !windows

package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/google/shlex"
)

// Elevation goes through polkit; there is no window state to request.
const elevator = "pkexec"

type osLauncher struct{}

func (osLauncher) Start(ctx context.Context, spec Spec) error {
	if err := validate(ctx, spec); err != nil {
		return err
	}

	var cmd *exec.Cmd
	switch {
	case spec.Elevated:
		cmd = exec.Command(elevator, "/bin/sh", "-c", spec.CommandLine())
	case spec.Shell:
		cmd = exec.Command("/bin/sh", "-c", spec.CommandLine())
	default:
		args, err := shlex.Split(spec.Args)
		if err != nil {
			return fmt.Errorf("split arguments %q: %w", spec.Args, err)
		}
		cmd = exec.Command(spec.Path, args...)
	}
	cmd.Dir = spec.Dir
	// Own process group so the child outlives our signals.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Path, err)
	}
	// Reap in the background; the exit status is not observed.
	go func() { _ = cmd.Wait() }()
	return nil
}
