package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory pipes (for testing the link layer)
type Port interface {
	io.ReadWriteCloser

	// Flush discards any data buffered by the driver
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string `toml:"device"`

	// Baud rate of the UART link
	Baud int `toml:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `toml:"read_timeout_ms"`
}

// DefaultConfig returns a default configuration for an inter-MCU UART link
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
