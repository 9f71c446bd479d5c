// Package fake implements an in-memory S-Channel bus for tests and software-only setups.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

type location struct {
	unit    int
	block   uint32
	acctype uint32
	address uint32
	reg     bool
}

// Bus answers S-Channel commands from memory. Memory and register spaces are separate and keyed
// by destination block, access type and address. Locations never written read as zero.
type Bus struct {
	mu      sync.Mutex
	words   map[location][]uint32
	logger  logging.Logger
	ops     int
	failErr error
	badAck  bool
}

// NewBus returns an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{words: map[location][]uint32{}, logger: logger}
}

// FailNext makes the next operation fail with err before it touches memory.
func (b *Bus) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// BadAckNext makes the next operation answer with an opcode that is not the expected acknowledge.
func (b *Bus) BadAckNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.badAck = true
}

// Ops returns how many operations reached the bus, failed ones included.
func (b *Bus) Ops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ops
}

// Op implements the S-Channel operation.
func (b *Bus) Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops++

	if b.failErr != nil {
		err := b.failErr
		b.failErr = nil
		return err
	}
	if writeWords < 2 || writeWords > schan.MaxWords || readWords < 0 || readWords > schan.MaxWords {
		return utils.NewParamError("bad operation size write=%d read=%d", writeWords, readWords)
	}

	cmd, _, err := schan.ParseOp(msg.Words(writeWords))
	if err != nil {
		return errors.Wrap(err, "malformed command")
	}
	resp, err := b.execute(unit, cmd)
	if err != nil {
		return err
	}
	if b.badAck {
		b.badAck = false
		resp[0] = schan.Header{Opcode: schan.Opcode(0x3f)}.Pack()
	}
	b.logger.CDebugw(ctx, "bus op", "unit", unit, "cmd", cmd.Header.String(), "address", cmd.Address)

	msg.Clear()
	copy(msg[:readWords], resp)
	return nil
}

// Execute runs one command outside of a message exchange and returns the full response words.
// FIFO models use it to run queued commands.
func (b *Bus) Execute(unit int, cmd schan.Command) ([]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops++
	return b.execute(unit, cmd)
}

func (b *Bus) execute(unit int, cmd schan.Command) ([]uint32, error) {
	hdr := cmd.Header
	ack, _ := hdr.Opcode.Ack()
	loc := location{unit: unit, block: hdr.DstBlk, acctype: hdr.AccType, address: cmd.Address}
	wsize := cmd.WordCount()

	resp := make([]uint32, 1, 1+wsize)
	resp[0] = schan.Header{Opcode: ack, DstBlk: hdr.DstBlk, AccType: hdr.AccType, DataLen: hdr.DataLen}.Pack()

	switch hdr.Opcode {
	case schan.ReadMemoryCmd, schan.ReadRegisterCmd, schan.TableLookupCmd:
		loc.reg = hdr.Opcode == schan.ReadRegisterCmd
		stored := b.words[loc]
		for i := 0; i < wsize; i++ {
			var w uint32
			if i < len(stored) {
				w = stored[i]
			}
			resp = append(resp, w)
		}
	case schan.WriteMemoryCmd, schan.WriteRegisterCmd, schan.TableInsertCmd:
		loc.reg = hdr.Opcode == schan.WriteRegisterCmd
		b.words[loc] = append([]uint32(nil), cmd.Data...)
	case schan.TableDeleteCmd:
		delete(b.words, loc)
	default:
		return nil, utils.NewParamError("unsupported opcode %v", hdr.Opcode)
	}
	return resp, nil
}
