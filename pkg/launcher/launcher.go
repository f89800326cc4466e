// Package launcher starts external processes without waiting for them.
//
// A Spec says what to start and how it should appear; the platform files
// decide which OS facility carries it out.
package launcher

import (
	"context"
	"errors"
	"strings"
)

// Window is the requested initial visibility of the launched program.
type Window int

const (
	WindowNormal Window = iota
	WindowMinimized
	WindowHidden
)

func (w Window) String() string {
	switch w {
	case WindowMinimized:
		return "minimized"
	case WindowHidden:
		return "hidden"
	default:
		return "normal"
	}
}

// Spec describes one launch.
//
// Args is a single command-line string, passed through as written.
// Shell asks for shell-style resolution (file associations, PATH lookup by the
// OS shell). Elevated asks the OS for administrative rights and implies Shell.
type Spec struct {
	Path     string
	Args     string
	Dir      string
	Window   Window
	Elevated bool
	Shell    bool
}

// CommandLine joins the quoted path and the argument string.
func (s Spec) CommandLine() string {
	line := Quote(s.Path)
	if a := strings.TrimSpace(s.Args); a != "" {
		line += " " + a
	}
	return line
}

var ErrEmptyPath = errors.New("launcher: empty program path")

// Launcher starts a process and returns once the OS accepted it.
type Launcher interface {
	Start(ctx context.Context, spec Spec) error
}

// Func adapts a function to Launcher.
type Func func(ctx context.Context, spec Spec) error

func (f Func) Start(ctx context.Context, spec Spec) error { return f(ctx, spec) }

// New returns the launcher for the host OS.
func New() Launcher { return osLauncher{} }

// Quote wraps s in double quotes when it contains whitespace or is empty.
func Quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func validate(ctx context.Context, spec Spec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(spec.Path) == "" {
		return ErrEmptyPath
	}
	return nil
}
