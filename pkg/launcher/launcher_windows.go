//go:build windows

package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

type osLauncher struct{}

func (osLauncher) Start(ctx context.Context, spec Spec) error {
	if err := validate(ctx, spec); err != nil {
		return err
	}
	if spec.Shell || spec.Elevated {
		return shellExecute(spec)
	}

	cmd := exec.Command(spec.Path)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:    spec.CommandLine(),
		HideWindow: spec.Window == WindowHidden,
	}
	if spec.Window == WindowHidden {
		cmd.SysProcAttr.CreationFlags = windows.CREATE_NO_WINDOW
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Path, err)
	}
	return cmd.Process.Release()
}

func shellExecute(spec Spec) error {
	var verb *uint16
	if spec.Elevated {
		verb = windows.StringToUTF16Ptr("runas")
	}
	file, err := windows.UTF16PtrFromString(spec.Path)
	if err != nil {
		return err
	}
	var args, dir *uint16
	if spec.Args != "" {
		if args, err = windows.UTF16PtrFromString(spec.Args); err != nil {
			return err
		}
	}
	if spec.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(spec.Dir); err != nil {
			return err
		}
	}

	show := int32(windows.SW_SHOWNORMAL)
	switch spec.Window {
	case WindowMinimized:
		show = int32(windows.SW_SHOWMINIMIZED)
	case WindowHidden:
		show = int32(windows.SW_HIDE)
	}
	if err := windows.ShellExecute(0, verb, file, args, dir, show); err != nil {
		return fmt.Errorf("shell execute %s: %w", spec.Path, err)
	}
	return nil
}
