// Package sim models the S-Channel registers of a CMICx device on top of an in-memory bus, so the
// cmicx drivers can run without hardware.
package sim

import (
	"go.uber.org/atomic"

	"go.viam.com/switchbus/cmicx"
	"go.viam.com/switchbus/hw"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/schan/fake"
	"go.viam.com/switchbus/utils"
)

var errSimulated = utils.NewFailError("simulated soft error")

// Chip answers S-Channel register traffic of one unit. Commands run synchronously when the start
// bit is written, so DONE is visible on the next poll.
type Chip struct {
	unit   int
	regs   *hw.RegisterFile
	bus    *fake.Bus
	logger logging.Logger

	stalled atomic.Bool
	nakNext atomic.Bool
	failOp  atomic.Int32
}

// NewChip returns a chip whose register window is backed by bus.
func NewChip(unit int, bus *fake.Bus, logger logging.Logger) *Chip {
	c := &Chip{
		unit:   unit,
		regs:   hw.NewRegisterFile(cmicx.WindowSize),
		bus:    bus,
		logger: logger,
	}
	c.failOp.Store(-1)
	for ch := 0; ch < cmicx.SchanChannels; ch++ {
		ch := ch
		c.regs.OnWrite(cmicx.SchanCtrl(ch), func(_, value uint32) { c.schanCtrl(ch, value) })
	}
	for ch := 0; ch < cmicx.FifoChannels; ch++ {
		ch := ch
		c.regs.OnWrite(cmicx.FifoCtrl(ch), func(_, value uint32) { c.fifoCtrl(ch, value) })
	}
	return c
}

// Registers is the register window of the chip.
func (c *Chip) Registers() *hw.RegisterFile {
	return c.regs
}

// Stall stops the chip from completing anything until it is unstalled.
func (c *Chip) Stall(stalled bool) {
	c.stalled.Store(stalled)
}

// NakNext makes the next PIO operation complete with NAK set.
func (c *Chip) NakNext() {
	c.nakNext.Store(true)
}

// FailFIFOOp makes the FIFO op with index i fail on every following batch. A negative i clears it.
func (c *Chip) FailFIFOOp(i int) {
	c.failOp.Store(int32(i))
}

func (c *Chip) schanCtrl(ch int, value uint32) {
	ctrl := cmicx.SchanCtrl(ch)
	if value&cmicx.SchanCtrlAbort != 0 {
		c.regs.Set(ctrl, 0)
		return
	}
	if value&cmicx.SchanCtrlStart == 0 || c.stalled.Load() {
		return
	}
	if c.nakNext.CompareAndSwap(true, false) {
		c.regs.Set(ctrl, cmicx.SchanCtrlDone|cmicx.SchanCtrlNak)
		return
	}

	var words [schan.MaxWords]uint32
	for i := range words {
		words[i] = c.regs.Get(cmicx.SchanMessage(ch, i))
	}
	cmd, _, err := schan.ParseOp(words[:])
	if err != nil {
		c.logger.Debugw("malformed S-Channel message", "unit", c.unit, "error", err)
		c.regs.Set(ctrl, cmicx.SchanCtrlDone|cmicx.SchanCtrlNak)
		return
	}
	resp, err := c.bus.Execute(c.unit, cmd)
	if err != nil {
		c.logger.Debugw("S-Channel command failed", "unit", c.unit, "error", err)
		c.regs.Set(ctrl, cmicx.SchanCtrlDone|cmicx.SchanCtrlNak)
		return
	}
	for i, w := range resp {
		c.regs.Set(cmicx.SchanMessage(ch, i), w)
	}
	c.regs.Set(ctrl, cmicx.SchanCtrlDone)
}

func (c *Chip) fifoCtrl(ch int, value uint32) {
	status := cmicx.FifoStatus(ch)
	if value&cmicx.FifoCtrlStart == 0 {
		return
	}
	c.regs.Set(status, 0)
	if c.stalled.Load() {
		return
	}

	buf := make([]uint32, cmicx.FifoCmdMemWords)
	for i := range buf {
		buf[i] = c.regs.Get(cmicx.FifoCmd(ch, i))
	}
	ops, err := schan.ParseOps(buf, c.regs.Get(cmicx.FifoNumOps(ch)))
	if err != nil {
		c.logger.Debugw("malformed fifo command memory", "unit", c.unit, "channel", ch, "error", err)
		c.regs.Set(status, cmicx.FifoStatusError)
		return
	}

	var done uint32
	var respWord int
	for i, op := range ops {
		resp, err := c.bus.Execute(c.unit, op)
		if err == nil && int32(i) == c.failOp.Load() {
			err = errSimulated
		}
		if err != nil {
			if value&cmicx.FifoCtrlIgnoreSER == 0 {
				c.regs.Set(status, done|cmicx.FifoStatusError)
				return
			}
			_, readWords := schan.CommandWords(op.Header.Opcode, op.WordCount())
			resp = make([]uint32, readWords)
			resp[0] = schan.Header{Opcode: op.Header.Opcode, Err: true}.Pack()
		}
		for _, w := range resp {
			c.regs.Set(cmicx.FifoResp(ch, respWord), w)
			respWord++
		}
		done++
	}
	c.regs.Set(status, done|cmicx.FifoStatusDone)
}
