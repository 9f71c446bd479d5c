// Package transport carries S-Channel messages to devices that are not reached through a memory
// mapped register window: management links such as SPI or I2C, and byte streams such as a serial
// debug bridge.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

// Conn sends S-Channel messages over periph connections, one per unit. Messages travel as
// little-endian words.
type Conn struct {
	mu     sync.Mutex
	conns  map[int]conn.Conn
	logger logging.Logger
}

// NewConn returns a connection based exchanger without units.
func NewConn(logger logging.Logger) *Conn {
	return &Conn{conns: map[int]conn.Conn{}, logger: logger}
}

// AddUnit binds the management link of a unit.
func (c *Conn) AddUnit(unit int, link conn.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[unit] = link
}

// Op implements pio.Exchanger. Full duplex links get the command and the response in two
// transactions, half duplex links in one.
func (c *Conn) Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.conns[unit]
	if !ok {
		return utils.NewUnavailableError(unit, "no management link")
	}
	w, err := msg.Bytes(writeWords)
	if err != nil {
		return err
	}
	if readWords < 0 || readWords > schan.MaxWords {
		return utils.NewParamError("%d response words exceed message size %d", readWords, schan.MaxWords)
	}
	r := make([]byte, readWords*schan.WordBytes)

	if link.Duplex() == conn.Full {
		if err := link.Tx(w, nil); err != nil {
			return errors.Wrapf(err, "%s: command", link)
		}
		if err := link.Tx(make([]byte, len(r)), r); err != nil {
			return errors.Wrapf(err, "%s: response", link)
		}
	} else if err := link.Tx(w, r); err != nil {
		return errors.Wrap(err, link.String())
	}
	c.logger.CDebugw(ctx, "management link op", "unit", unit, "link", link.String(), "write", len(w), "read", len(r))

	msg.Clear()
	return msg.SetBytes(r)
}
