// Package autostart registers the binary to start when the user logs on.
//
// Windows uses the per-user Run registry key, Linux a systemd user unit.
// Other platforms are a no-op. Callers treat failures as non-fatal.
package autostart

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Enabled bool
	// Name is the registry value or unit name, e.g. "BackMan".
	Name string
	// Exe defaults to the running executable.
	Exe  string
	Args []string
}

var ErrUnsupported = errors.New("autostart: unsupported platform")

// Apply registers or unregisters according to cfg.Enabled.
func Apply(ctx context.Context, cfg Config) error {
	cfg, err := resolve(cfg)
	if err != nil {
		return err
	}
	if cfg.Enabled {
		return register(ctx, cfg)
	}
	return unregister(ctx, cfg)
}

func resolve(cfg Config) (Config, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "BackMan"
	}
	if cfg.Exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return cfg, err
		}
		if abs, err := filepath.EvalSymlinks(exe); err == nil {
			exe = abs
		}
		cfg.Exe = exe
	}
	return cfg, nil
}

// commandLine renders exe and args with double quotes where needed; both the
// Run key and systemd's ExecStart accept this form.
func commandLine(exe string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(exe))
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
