//go:build !windows

package analysis

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the child in its own process group so the whole
// tree can be killed at once.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree force-kills the process and everything in its group.
// Used by the manual timeout because signal-based termination of native
// children is unreliable.
func killProcessTree(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	// Negative pid targets the process group.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = cmd.Process.Kill()
}

// terminateGracefully asks the process to exit via SIGTERM. The caller is
// responsible for escalating to killProcessTree after a grace period.
func terminateGracefully(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// fatalSignals are the native crash signals that classify an exit as a
// retryable process failure. SIGKILL is included because the kernel OOM
// killer delivers it.
var fatalSignals = map[syscall.Signal]string{
	syscall.SIGSEGV: "SIGSEGV",
	syscall.SIGABRT: "SIGABRT",
	syscall.SIGILL:  "SIGILL",
	syscall.SIGBUS:  "SIGBUS",
	syscall.SIGFPE:  "SIGFPE",
	syscall.SIGKILL: "SIGKILL",
}

// exitSignal extracts the fatal signal name from a process exit, if any.
func exitSignal(err error) (string, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return "", false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return "", false
	}
	if name, fatal := fatalSignals[status.Signal()]; fatal {
		return name, true
	}
	return status.Signal().String(), false
}
