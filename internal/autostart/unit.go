package autostart

import (
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// unitName maps "BackMan" to "backman.service".
func unitName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.Join(strings.Fields(n), "-")
	return n + ".service"
}

// unitFile renders the user unit. Type=notify pairs with the readiness
// notification sent once ticking is armed.
func unitFile(cfg Config) ([]byte, error) {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", cfg.Name+" task scheduler"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", commandLine(cfg.Exe, cfg.Args)),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	}
	return io.ReadAll(unit.Serialize(opts))
}
