package serialmux

import (
	"fmt"

	"github.com/banshee-data/stopline/internal/monitoring"
	"go.bug.st/serial"
)

// NewRealSerialMux creates a SerialMux backed by the serial port at path,
// opened with opts.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	link, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := link.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s (%s): %w", path, link, err)
	}
	monitoring.Logf("[serialmux] opened %s at %s", path, link)

	return NewSerialMux[serial.Port](port), nil
}
