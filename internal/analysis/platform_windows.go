//go:build windows

package analysis

import (
	"os/exec"
	"strconv"
)

// setupProcessGroup is a no-op on Windows; taskkill /T handles the tree.
func setupProcessGroup(cmd *exec.Cmd) {}

// killProcessTree force-kills the process tree via taskkill.
func killProcessTree(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	_ = kill.Run()
	_ = cmd.Process.Kill()
}

// terminateGracefully has no SIGTERM equivalent on Windows; fall through to
// a tree kill.
func terminateGracefully(cmd *exec.Cmd) {
	killProcessTree(cmd)
}

// ntFatalCodes are NTSTATUS exit codes corresponding to native crashes.
var ntFatalCodes = map[uint32]string{
	0xC0000005: "ACCESS_VIOLATION",
	0xC000001D: "ILLEGAL_INSTRUCTION",
	0xC0000094: "INTEGER_DIVIDE_BY_ZERO",
	0xC00000FD: "STACK_OVERFLOW",
	0xC0000409: "STACK_BUFFER_OVERRUN",
}

// exitSignal maps crash-class NTSTATUS exit codes to a signal-like name.
func exitSignal(err error) (string, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return "", false
	}
	code := uint32(exitErr.ExitCode())
	if name, fatal := ntFatalCodes[code]; fatal {
		return name, true
	}
	return "", false
}
