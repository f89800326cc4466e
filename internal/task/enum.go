package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var kindNames = []string{"Program", "Batch", "PowerShell"}

var scheduleNames = []string{"Startup", "Daily", "Weekly", "Monthly", "Interval"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

func (s ScheduleKind) String() string {
	if s >= 0 && int(s) < len(scheduleNames) {
		return scheduleNames[s]
	}
	return "ScheduleKind(" + strconv.Itoa(int(s)) + ")"
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	i, err := lookupName(kindNames, s)
	if err != nil {
		return 0, fmt.Errorf("task kind: %w", err)
	}
	return Kind(i), nil
}

// ParseScheduleKind accepts a schedule kind name in any case.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	i, err := lookupName(scheduleNames, s)
	if err != nil {
		return 0, fmt.Errorf("schedule kind: %w", err)
	}
	return ScheduleKind(i), nil
}

func (k Kind) MarshalJSON() ([]byte, error) { return marshalEnum(int(k), kindNames) }

func (k *Kind) UnmarshalJSON(b []byte) error {
	i, err := unmarshalEnum(b, kindNames)
	if err != nil {
		return fmt.Errorf("task kind: %w", err)
	}
	*k = Kind(i)
	return nil
}

func (s ScheduleKind) MarshalJSON() ([]byte, error) { return marshalEnum(int(s), scheduleNames) }

func (s *ScheduleKind) UnmarshalJSON(b []byte) error {
	i, err := unmarshalEnum(b, scheduleNames)
	if err != nil {
		return fmt.Errorf("schedule kind: %w", err)
	}
	*s = ScheduleKind(i)
	return nil
}

// Known values are written as names; anything else keeps its ordinal.
func marshalEnum(v int, names []string) ([]byte, error) {
	if v >= 0 && v < len(names) {
		return json.Marshal(names[v])
	}
	return []byte(strconv.Itoa(v)), nil
}

func unmarshalEnum(b []byte, names []string) (int, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
		return lookupName(names, s)
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("invalid value %s", b)
	}
	return n, nil
}

func lookupName(names []string, s string) (int, error) {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", s)
}
