package gateway

import (
	"fmt"

	"benchlink/internal/types"
)

// OpError reports a register operation that failed after the client spent
// its retry budget. It wraps the last transport error and classifies as a
// connectivity failure under errors.Is.
type OpError struct {
	Op    string // "read", "write", "open"
	Addr  uint16
	Count uint16
	Tries int
	Err   error
}

func (e *OpError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("modbus open failed after %d attempts: %v", e.Tries, e.Err)
	}
	if e.Tries > 1 {
		return fmt.Sprintf("modbus %s reg %d count %d failed after %d attempts: %v",
			e.Op, e.Addr, e.Count, e.Tries, e.Err)
	}
	return fmt.Sprintf("modbus %s reg %d failed: %v", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool { return target == types.ErrConnectivity }
