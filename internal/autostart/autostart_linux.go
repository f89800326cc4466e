//go:build linux

package autostart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/dbus"
)

func unitDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "systemd", "user"), nil
}

func register(ctx context.Context, cfg Config) error {
	body, err := unitFile(cfg)
	if err != nil {
		return err
	}
	dir, err := unitDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, unitName(cfg.Name))
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, body) {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("autostart: user bus: %w", err)
	}
	defer conn.Close()
	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("autostart: daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{path}, false, true); err != nil {
		return fmt.Errorf("autostart: enable %s: %w", unitName(cfg.Name), err)
	}
	return nil
}

func unregister(ctx context.Context, cfg Config) error {
	dir, err := unitDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, unitName(cfg.Name))
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err == nil {
		_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName(cfg.Name)}, false)
		_ = conn.ReloadContext(ctx)
		conn.Close()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
