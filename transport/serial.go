package transport

import (
	"io"

	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/switchbus/logging"
)

// DefaultBaudRate is used when a SerialConfig has none.
const DefaultBaudRate = 115200

// SerialConfig describes the serial port of a debug bridge.
type SerialConfig struct {
	Path     string `json:"path"`
	BaudRate uint   `json:"baud_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SerialConfig) Validate(path string) error {
	if cfg.Path == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "path")
	}
	return nil
}

// openPort opens a serial device. It's a variable in case you need to override it during tests.
var openPort = func(options goserial.OpenOptions) (io.ReadWriteCloser, error) {
	return goserial.Open(options)
}

// OpenSerial opens the serial port of a debug bridge and returns a Stream over it. Closing the
// stream closes the port.
func OpenSerial(cfg SerialConfig, logger logging.Logger) (*Stream, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	options := goserial.OpenOptions{
		PortName:        cfg.Path,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := openPort(options)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open serial port %q", cfg.Path)
	}
	logger.Infow("serial bridge opened", "path", cfg.Path, "baud_rate", baud)
	return NewStream(port, logger), nil
}
