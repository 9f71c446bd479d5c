// Package pio performs single S-Channel transactions: one read or one write as one request and
// response exchange on the bus.
package pio

import (
	"context"
	"fmt"
	"strings"

	"go.viam.com/switchbus/addr"
	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/metrics"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/simhook"
	"go.viam.com/switchbus/utils"
)

// MaxRegWords is the largest register access in words.
const MaxRegWords = 2

// An Exchanger performs one S-Channel operation for a unit: it sends the first writeWords words of
// msg and then overwrites msg with readWords words of response, header included. Errors are
// transport failures and are returned to the caller unchanged.
type Exchanger interface {
	Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error
}

// A Formatter renders an access for verbose diagnostics.
type Formatter interface {
	FormatMem(unit int, adext, address uint32, data []uint32) string
}

// HexFormatter renders accesses as plain hex words.
type HexFormatter struct{}

// FormatMem implements Formatter.
func (HexFormatter) FormatMem(unit int, adext, address uint32, data []uint32) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "adext=0x%x addr=0x%08x data:", adext, address)
	for _, w := range data {
		fmt.Fprintf(&sb, " 0x%08x", w)
	}
	return sb.String()
}

// Option configures an Engine.
type Option func(*Engine)

// WithSimHook routes every access that is not bypassed to hook instead of the bus.
func WithSimHook(hook simhook.Hook) Option {
	return func(e *Engine) {
		e.hook = hook
	}
}

// WithFormatter replaces the diagnostic formatter.
func WithFormatter(f Formatter) Option {
	return func(e *Engine) {
		e.formatter = f
	}
}

// WithMetrics records every transaction in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// Engine executes PIO reads and writes. The bypass check always runs first, then the simulation
// hook if one is installed, and only then the bus.
type Engine struct {
	exchanger Exchanger
	decoder   addr.Decoder
	hook      simhook.Hook
	formatter Formatter
	metrics   *metrics.Collector
	logger    logging.Logger
}

// NewEngine returns an engine issuing transactions through exchanger.
func NewEngine(exchanger Exchanger, decoder addr.Decoder, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		exchanger: exchanger,
		decoder:   decoder,
		formatter: HexFormatter{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// access describes one of the four transaction kinds.
type access struct {
	name    string
	label   string
	cmd     schan.Opcode
	ack     schan.Opcode
	simTag  uint32
	maxSize int
}

var (
	memRead  = access{"mem read", "mem_read", schan.ReadMemoryCmd, schan.ReadMemoryAck, addr.SimMemTag, schan.MaxResponseWords}
	memWrite = access{"mem write", "mem_write", schan.WriteMemoryCmd, schan.WriteMemoryAck, addr.SimMemTag, schan.MaxWriteWords}
	regRead  = access{"reg read", "reg_read", schan.ReadRegisterCmd, schan.ReadRegisterAck, 0, MaxRegWords}
	regWrite = access{"reg write", "reg_write", schan.WriteRegisterCmd, schan.WriteRegisterAck, 0, MaxRegWords}
)

// MemRead reads len(data) words of memory into data. A bypassed address reports success and
// leaves data untouched.
func (e *Engine) MemRead(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	return e.read(ctx, memRead, unit, adext, address, data)
}

// MemWrite writes data to memory. A write to a bypassed address is a no-op.
func (e *Engine) MemWrite(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	return e.write(ctx, memWrite, unit, adext, address, data)
}

// RegRead reads a register of up to MaxRegWords words into data.
func (e *Engine) RegRead(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	return e.read(ctx, regRead, unit, adext, address, data)
}

// RegWrite writes a register of up to MaxRegWords words.
func (e *Engine) RegWrite(ctx context.Context, unit int, adext, address uint32, data []uint32) error {
	return e.write(ctx, regWrite, unit, adext, address, data)
}

func (e *Engine) read(ctx context.Context, acc access, unit int, adext, address uint32, data []uint32) (err error) {
	if e.decoder.IsBypassed(unit, adext, address) {
		return nil
	}

	start := e.metrics.Now()
	defer func() {
		e.metrics.PIODone(acc.label, start, err)
	}()

	if len(data) > acc.maxSize {
		return utils.NewParamError("%s of %d words exceeds capacity %d", acc.name, len(data), acc.maxSize)
	}

	if e.hook != nil {
		if err := e.hook.Read(ctx, unit, adext|acc.simTag, address, data); err != nil {
			return err
		}
		e.trace(ctx, "Sim "+acc.name, unit, adext, address, data)
		return nil
	}

	msg, err := schan.EncodeCommand(acc.cmd, e.decoder.AccType(adext), e.decoder.Block(adext), address, len(data), nil)
	if err != nil {
		return err
	}
	writeWords, readWords := schan.CommandWords(acc.cmd, len(data))
	if err := e.exchanger.Op(ctx, unit, msg, writeWords, readWords); err != nil {
		e.logger.Errorw(acc.name+" error", "unit", unit, "addr", fmt.Sprintf("0x%04x%08x", adext, address), "error", err)
		return err
	}

	op, words, err := schan.DecodeResponse(msg, len(data))
	if err != nil {
		return err
	}
	if op != acc.ack {
		e.logger.Errorw(acc.name+" invalid ACK", "unit", unit, "opcode", op, "expected", acc.ack,
			"addr", fmt.Sprintf("0x%08x", address))
		return utils.NewProtocolError(acc.ack, op)
	}
	copy(data, words)

	e.trace(ctx, acc.name, unit, adext, address, data)
	return nil
}

func (e *Engine) write(ctx context.Context, acc access, unit int, adext, address uint32, data []uint32) (err error) {
	if e.decoder.IsBypassed(unit, adext, address) {
		return nil
	}

	start := e.metrics.Now()
	defer func() {
		e.metrics.PIODone(acc.label, start, err)
	}()

	if len(data) > acc.maxSize {
		return utils.NewParamError("%s of %d words exceeds capacity %d", acc.name, len(data), acc.maxSize)
	}

	if e.hook != nil {
		if err := e.hook.Write(ctx, unit, adext|acc.simTag, address, data); err != nil {
			return err
		}
		e.trace(ctx, "Sim "+acc.name, unit, adext, address, data)
		return nil
	}

	// The data length field only matters for write commands, where the CMIC uses it to know how
	// many bytes to send.
	msg, err := schan.EncodeCommand(acc.cmd, e.decoder.AccType(adext), e.decoder.Block(adext), address, len(data), data)
	if err != nil {
		return err
	}
	writeWords, readWords := schan.CommandWords(acc.cmd, len(data))
	if err := e.exchanger.Op(ctx, unit, msg, writeWords, readWords); err != nil {
		e.logger.Errorw(acc.name+" error", "unit", unit, "addr", fmt.Sprintf("0x%04x%08x", adext, address), "error", err)
		return err
	}
	if op := msg.Header().Opcode; op != acc.ack {
		e.logger.Errorw(acc.name+" invalid ACK", "unit", unit, "opcode", op, "expected", acc.ack,
			"addr", fmt.Sprintf("0x%08x", address))
		return utils.NewProtocolError(acc.ack, op)
	}

	e.trace(ctx, acc.name, unit, adext, address, data)
	return nil
}

func (e *Engine) trace(ctx context.Context, what string, unit int, adext, address uint32, data []uint32) {
	if !e.logger.IsDebugEnabled(ctx) {
		return
	}
	e.logger.CDebugf(ctx, "unit %d: %s: %s", unit, what, e.formatter.FormatMem(unit, adext, address, data))
}
