package serialmux

import (
	"io"
)

// SerialPorter is the minimal interface needed for a serial port. It lets
// the mux run against fixtures and pipes as well as real hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
