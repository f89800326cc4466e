package engine

import (
	"path/filepath"
	"runtime"
	"strings"

	"backman/internal/task"
	"backman/pkg/launcher"
)

// Platform names the interpreters used when an elevated launch has to be
// rewritten.
type Platform struct {
	// Interpreter runs batch scripts; InterpreterFlag precedes the script.
	Interpreter     string
	InterpreterFlag string
	BatchExt        string

	PowerShell string
}

var (
	WindowsPlatform = Platform{Interpreter: "cmd.exe", InterpreterFlag: "/c", BatchExt: ".bat", PowerShell: "powershell.exe"}
	UnixPlatform    = Platform{Interpreter: "/bin/sh", BatchExt: ".sh", PowerShell: "pwsh"}
)

// HostPlatform returns the table for the running OS.
func HostPlatform() Platform {
	if runtime.GOOS == "windows" {
		return WindowsPlatform
	}
	return UnixPlatform
}

// Plan derives the launch parameters for t.
//
// The working directory is the directory of ProgramPath, or cwd for a bare
// program name. Elevated launches always go through the shell; batch and
// PowerShell scripts are handed to their interpreter with the original script
// path and arguments.
func Plan(t task.Task, cwd string, p Platform) launcher.Spec {
	spec := launcher.Spec{
		Path: t.ProgramPath,
		Args: t.Arguments,
		Dir:  workDir(t.ProgramPath, cwd),
	}
	window := launcher.WindowNormal
	if t.StartMinimized {
		window = launcher.WindowMinimized
	}

	if !t.RunAsAdmin {
		if t.RunInBackground {
			spec.Window = launcher.WindowHidden
			return spec
		}
		spec.Shell = true
		spec.Window = window
		return spec
	}

	spec.Shell = true
	spec.Elevated = true
	spec.Window = window

	ext := strings.ToLower(filepath.Ext(t.ProgramPath))
	switch {
	case t.Kind == task.KindBatch || (p.BatchExt != "" && ext == p.BatchExt):
		spec.Path = p.Interpreter
		spec.Args = joinArgs(p.InterpreterFlag, interpreterScriptArgs(p, t.ProgramPath, t.Arguments))
	case t.Kind == task.KindPowerShell || ext == ".ps1":
		spec.Path = p.PowerShell
		spec.Args = joinArgs("-NoProfile -ExecutionPolicy Bypass -File", launcher.Quote(t.ProgramPath), t.Arguments)
	}
	return spec
}

// cmd.exe /c strips the outer quotes when the rest of the line holds more
// than one quoted part, so the whole command gets an extra pair there.
func interpreterScriptArgs(p Platform, script, args string) string {
	line := joinArgs(launcher.Quote(script), args)
	if p.InterpreterFlag == "/c" && strings.Count(line, `"`) > 2 {
		return `"` + line + `"`
	}
	return line
}

func workDir(programPath, cwd string) string {
	dir := filepath.Dir(programPath)
	if programPath == "" || dir == "." {
		return cwd
	}
	return dir
}

func joinArgs(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
