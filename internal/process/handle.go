package process

import (
	"bufio"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle owns one running child and both ends of its request channel.
type Handle struct {
	executable string
	path       string
	cmd        *exec.Cmd
	logger     *slog.Logger

	// mu is held for a whole write-then-read, and by Close and Kill.
	mu     sync.Mutex
	closed bool
	stdin  *os.File
	stdout *os.File
	reader *bufio.Reader

	done    chan struct{}
	waitErr error
}

func (h *Handle) reap() {
	h.waitErr = h.cmd.Wait()
	h.logger.Debug("child reaped", "state", h.cmd.ProcessState.String())
	close(h.done)
}

// Executable returns the name the child was launched as.
func (h *Handle) Executable() string { return h.executable }

// Path returns the resolved executable path.
func (h *Handle) Path() string { return h.path }

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the child's exit code, or -1 if it is still running or
// was terminated by a signal.
func (h *Handle) ExitCode() int {
	if !h.Exited() {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Signal returns the signal that terminated the child, or 0.
func (h *Handle) Signal() syscall.Signal {
	if !h.Exited() {
		return 0
	}
	if ws, ok := h.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal()
	}
	return 0
}

// ProcessState returns the exit state, or nil while the child is running.
func (h *Handle) ProcessState() *os.ProcessState {
	if !h.Exited() {
		return nil
	}
	return h.cmd.ProcessState
}

// Wait blocks until the child exits or timeout elapses and reports
// whether it exited. A negative timeout waits indefinitely.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout < 0 {
		<-h.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

func (h *Handle) signal(sig os.Signal) error {
	err := h.cmd.Process.Signal(sig)
	if err != nil && h.Exited() {
		return nil
	}
	return err
}

func (h *Handle) protocolError(op string) *ProtocolError {
	e := &ProtocolError{Op: op, Executable: h.executable}
	if h.Exited() {
		e.Exited = true
		e.ExitCode = h.ExitCode()
		e.Signal = h.Signal()
	}
	return e
}

// release closes both parent endpoints. Callers hold mu.
func (h *Handle) release() {
	if h.stdin != nil {
		_ = h.stdin.Close()
		h.stdin = nil
	}
	if h.stdout != nil {
		_ = h.stdout.Close()
		h.stdout = nil
	}
}
