package serial

import (
	"io"
)

// Port represents a serial link to a NadaMQ peer.
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory loopback peers (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush discards bytes received but not yet read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC peers ignore this)
	Baud int

	// Read timeout in milliseconds (0 = blocking).
	// A non-zero timeout lets readers poll without blocking forever.
	ReadTimeout int
}

// DefaultConfig returns the configuration used by NadaMQ Arduino peers
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
