package scope

import "fmt"

// BootError wraps the failure of a plugin during boot. It is surfaced once,
// through the sequencer's ready signal, and never crashes the process.
type BootError struct {
	Plugin string
	Err    error
}

func (e *BootError) Error() string {
	return fmt.Sprintf("plugin %q failed to boot: %v", e.Plugin, e.Err)
}

func (e *BootError) Unwrap() error { return e.Err }
