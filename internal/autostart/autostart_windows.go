//go:build windows

package autostart

import (
	"context"
	"errors"

	"golang.org/x/sys/windows/registry"
)

const runKey = `Software\Microsoft\Windows\CurrentVersion\Run`

func register(_ context.Context, cfg Config) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKey, registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	want := commandLine(cfg.Exe, cfg.Args)
	if cur, _, err := k.GetStringValue(cfg.Name); err == nil && cur == want {
		return nil
	}
	return k.SetStringValue(cfg.Name, want)
}

func unregister(_ context.Context, cfg Config) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return err
	}
	defer k.Close()
	if err := k.DeleteValue(cfg.Name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}
