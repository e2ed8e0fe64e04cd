package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions describes the serial link the event source is attached to. It is
// read straight from the "serial" block of the JSON configuration.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultEventLink is the link the perception host drives: 115200 8N1. Path
// messages run to several kilobytes, so anything slower stalls the frame
// rate.
var DefaultEventLink = PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}

var parityNames = map[string]string{
	"N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var stopBitModes = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills unset fields from DefaultEventLink and canonicalises the
// parity to a single letter.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultEventLink.BaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = DefaultEventLink.DataBits
	}
	if opts.StopBits == 0 {
		opts.StopBits = DefaultEventLink.StopBits
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if _, ok := stopBitModes[opts.StopBits]; !ok {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	key := strings.ToUpper(strings.TrimSpace(opts.Parity))
	if key == "" {
		key = DefaultEventLink.Parity
	}
	parity, ok := parityNames[key]
	if !ok {
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	opts.Parity = parity
	return opts, nil
}

// String formats normalised options the usual way, e.g. "115200 8N1".
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: stopBitModes[opts.StopBits],
		Parity:   parityModes[opts.Parity],
	}, nil
}
