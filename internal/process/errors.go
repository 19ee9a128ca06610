package process

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrClosed is returned by operations on a handle that has been released.
var ErrClosed = errors.New("process handle is closed")

// ConfigurationError reports missing or unusable launch configuration.
type ConfigurationError struct {
	Setting string
	Path    string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Setting, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Setting, e.Message)
}

// ProtocolError reports a broken exchange, typically a missing response.
// ExitCode and Signal are meaningful only when Exited is true.
type ProtocolError struct {
	Op         string
	Executable string
	Exited     bool
	ExitCode   int
	Signal     syscall.Signal
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Exited && e.Signal != 0:
		return fmt.Sprintf("%s: %s was killed by signal %s", e.Op, e.Executable, e.Signal)
	case e.Exited:
		return fmt.Sprintf("%s: %s exited with code %d", e.Op, e.Executable, e.ExitCode)
	default:
		return fmt.Sprintf("%s from %s", e.Op, e.Executable)
	}
}
