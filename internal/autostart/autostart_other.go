//go:build !linux && !windows

package autostart

import "context"

func register(context.Context, Config) error { return ErrUnsupported }

func unregister(context.Context, Config) error { return nil }
