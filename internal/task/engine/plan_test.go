package engine

import (
	"path/filepath"
	"testing"

	"backman/internal/task"
	"backman/pkg/launcher"
)

func TestPlan(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		task task.Task
		p    Platform
		want launcher.Spec
	}{
		{
			name: "background is hidden and direct",
			task: task.Task{ProgramPath: "tool.exe", Arguments: "-q", RunInBackground: true, StartMinimized: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "tool.exe", Args: "-q", Window: launcher.WindowHidden},
		},
		{
			name: "foreground goes through the shell",
			task: task.Task{ProgramPath: "notepad.exe", StartMinimized: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "notepad.exe", Window: launcher.WindowMinimized, Shell: true},
		},
		{
			name: "elevated program keeps its path",
			task: task.Task{ProgramPath: "setup.exe", Arguments: "/s", RunAsAdmin: true, RunInBackground: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "setup.exe", Args: "/s", Window: launcher.WindowNormal, Shell: true, Elevated: true},
		},
		{
			name: "elevated batch by extension references the original script",
			task: task.Task{ProgramPath: "backup.BAT", Arguments: "--full", RunAsAdmin: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "cmd.exe", Args: "/c backup.BAT --full", Shell: true, Elevated: true},
		},
		{
			name: "elevated batch by kind with spaces",
			task: task.Task{ProgramPath: "my backup.cmd", Kind: task.KindBatch, RunAsAdmin: true, StartMinimized: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "cmd.exe", Args: `/c "my backup.cmd"`, Window: launcher.WindowMinimized, Shell: true, Elevated: true},
		},
		{
			name: "elevated batch with quoted args gets wrapped",
			task: task.Task{ProgramPath: "my backup.bat", Arguments: `"D:\out dir"`, RunAsAdmin: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "cmd.exe", Args: `/c ""my backup.bat" "D:\out dir""`, Shell: true, Elevated: true},
		},
		{
			name: "elevated shell script on unix",
			task: task.Task{ProgramPath: "sync.sh", Arguments: "-v", RunAsAdmin: true},
			p:    UnixPlatform,
			want: launcher.Spec{Path: "/bin/sh", Args: "sync.sh -v", Shell: true, Elevated: true},
		},
		{
			name: "elevated powershell",
			task: task.Task{ProgramPath: "clean.ps1", Arguments: "-Force", RunAsAdmin: true},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "powershell.exe", Args: "-NoProfile -ExecutionPolicy Bypass -File clean.ps1 -Force", Shell: true, Elevated: true},
		},
		{
			name: "batch kind is ignored without elevation",
			task: task.Task{ProgramPath: "backup.bat", Kind: task.KindBatch},
			p:    WindowsPlatform,
			want: launcher.Spec{Path: "backup.bat", Shell: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.want.Dir = "/work"
			if got := Plan(tt.task, "/work", tt.p); got != tt.want {
				t.Fatalf("Plan() =\n %+v\nwant\n %+v", got, tt.want)
			}
		})
	}
}

func TestPlanWorkingDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "tools")
	prog := filepath.Join(dir, "run.exe")

	if got := Plan(task.Task{ProgramPath: prog}, "/cwd", HostPlatform()).Dir; got != dir {
		t.Fatalf("Dir = %q, want %q", got, dir)
	}
	if got := Plan(task.Task{ProgramPath: "run.exe"}, "/cwd", HostPlatform()).Dir; got != "/cwd" {
		t.Fatalf("bare program Dir = %q, want /cwd", got)
	}
	if got := Plan(task.Task{}, "/cwd", HostPlatform()).Dir; got != "/cwd" {
		t.Fatalf("empty path Dir = %q, want /cwd", got)
	}
}
