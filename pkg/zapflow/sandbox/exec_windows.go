//go:build windows

// Package sandbox – exec_windows.go. Windows has no process groups in the
// POSIX sense; exec.CommandContext's default kill is the best available.
package sandbox

import "os/exec"

func setupProcessGroup(_ *exec.Cmd) {}
