package fake

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

func TestBusMemory(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))

	msg, err := schan.EncodeCommand(schan.WriteMemoryCmd, 1, 2, 0x40, 2, []uint32{0xa, 0xb})
	test.That(t, err, test.ShouldBeNil)
	w, r := schan.CommandWords(schan.WriteMemoryCmd, 2)
	test.That(t, bus.Op(ctx, 0, msg, w, r), test.ShouldBeNil)
	test.That(t, msg.Header().Opcode, test.ShouldEqual, schan.WriteMemoryAck)

	msg, err = schan.EncodeCommand(schan.ReadMemoryCmd, 1, 2, 0x40, 3, nil)
	test.That(t, err, test.ShouldBeNil)
	w, r = schan.CommandWords(schan.ReadMemoryCmd, 3)
	test.That(t, bus.Op(ctx, 0, msg, w, r), test.ShouldBeNil)
	op, words, err := schan.DecodeResponse(msg, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, op, test.ShouldEqual, schan.ReadMemoryAck)
	test.That(t, words, test.ShouldResemble, []uint32{0xa, 0xb, 0})

	// Registers live in a separate space.
	msg, err = schan.EncodeCommand(schan.ReadRegisterCmd, 1, 2, 0x40, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Op(ctx, 0, msg, 2, 2), test.ShouldBeNil)
	test.That(t, msg.Header().Opcode, test.ShouldEqual, schan.ReadRegisterAck)
	test.That(t, msg[1], test.ShouldEqual, uint32(0))

	test.That(t, bus.Ops(), test.ShouldEqual, 3)
}

func TestBusFaults(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))

	linkDown := errors.New("link down")
	bus.FailNext(linkDown)
	msg, err := schan.EncodeCommand(schan.ReadMemoryCmd, 0, 0, 0, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Op(ctx, 0, msg, 2, 2), test.ShouldEqual, linkDown)

	bus.BadAckNext()
	msg, err = schan.EncodeCommand(schan.ReadMemoryCmd, 0, 0, 0, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Op(ctx, 0, msg, 2, 2), test.ShouldBeNil)
	test.That(t, msg.Header().Opcode, test.ShouldNotEqual, schan.ReadMemoryAck)

	// Faults only apply once.
	msg, err = schan.EncodeCommand(schan.ReadMemoryCmd, 0, 0, 0, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Op(ctx, 0, msg, 2, 2), test.ShouldBeNil)
	test.That(t, msg.Header().Opcode, test.ShouldEqual, schan.ReadMemoryAck)

	err = bus.Op(ctx, 0, msg, 1, 0)
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
}

func TestBusTable(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	insert := schan.Command{
		Header:  schan.Header{Opcode: schan.TableInsertCmd, DstBlk: 4, DataLen: 8},
		Address: 0x10,
		Data:    []uint32{1, 2},
	}
	resp, err := bus.Execute(0, insert)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, schan.ParseHeader(resp[0]).Opcode, test.ShouldEqual, schan.TableInsertDoneMsg)

	lookup := insert
	lookup.Header.Opcode = schan.TableLookupCmd
	resp, err = bus.Execute(0, lookup)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp[1:], test.ShouldResemble, []uint32{1, 2})

	del := insert
	del.Header.Opcode = schan.TableDeleteCmd
	_, err = bus.Execute(0, del)
	test.That(t, err, test.ShouldBeNil)
	resp, err = bus.Execute(0, lookup)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp[1:], test.ShouldResemble, []uint32{0, 0})

	_, err = bus.Execute(0, schan.Command{Header: schan.Header{Opcode: schan.ReadMemoryAck}})
	test.That(t, errors.Is(err, utils.ErrParam), test.ShouldBeTrue)
}
