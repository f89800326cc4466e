package autostart

import (
	"strings"
	"testing"
)

func TestCommandLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		exe  string
		args []string
		want string
	}{
		{"/usr/bin/backman", nil, "/usr/bin/backman"},
		{`C:\Program Files\BackMan\backman.exe`, []string{"-config", `C:\cfg.yaml`}, `"C:\Program Files\BackMan\backman.exe" -config C:\cfg.yaml`},
		{"/opt/backman", []string{"a b", ""}, `/opt/backman "a b" ""`},
	}
	for _, tc := range cases {
		if got := commandLine(tc.exe, tc.args); got != tc.want {
			t.Fatalf("commandLine(%q, %q) = %q, want %q", tc.exe, tc.args, got, tc.want)
		}
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"BackMan":       "backman.service",
		" Back Man  ":   "back-man.service",
		"backman-agent": "backman-agent.service",
	}
	for in, want := range cases {
		if got := unitName(in); got != want {
			t.Fatalf("unitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnitFile(t *testing.T) {
	t.Parallel()

	body, err := unitFile(Config{Name: "BackMan", Exe: "/usr/local/bin/backman", Args: []string{"-config", "/etc/backman.yaml"}})
	if err != nil {
		t.Fatalf("unitFile: %v", err)
	}
	s := string(body)
	for _, want := range []string{
		"[Unit]",
		"Description=BackMan task scheduler",
		"[Service]",
		"Type=notify",
		"ExecStart=/usr/local/bin/backman -config /etc/backman.yaml",
		"[Install]",
		"WantedBy=default.target",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("unit file missing %q:\n%s", want, s)
		}
	}
	if strings.Index(s, "[Unit]") > strings.Index(s, "[Service]") || strings.Index(s, "[Service]") > strings.Index(s, "[Install]") {
		t.Fatalf("sections out of order:\n%s", s)
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := resolve(Config{Name: "  "})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Name != "BackMan" || cfg.Exe == "" {
		t.Fatalf("resolve = %+v", cfg)
	}
}
