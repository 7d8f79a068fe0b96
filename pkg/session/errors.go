package session

import (
	"errors"
	"fmt"
)

// ErrSessionUsed is returned when Run is called on a session that has
// already run. Sessions are single use; create a new one to reconnect.
var ErrSessionUsed = errors.New("session: already used")

// Device operations reported in DeviceError.Op.
const (
	OpOpen        = "open"
	OpInit        = "init"
	OpConfigure   = "configure"
	OpRead        = "read"
	OpOrientation = "orientation"
	OpStop        = "stop"
	OpClose       = "close"
)

// DeviceError records a failed device operation.
type DeviceError struct {
	Op    string
	Index int
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
